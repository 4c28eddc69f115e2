// Package server exposes the HTTP API: chat, session management, health,
// mode inspection, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/executor"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/modes"
	"github.com/alextra-lab/personal-agent-sub000/internal/sensors"
	"github.com/alextra-lab/personal-agent-sub000/internal/session"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// statusClientClosedRequest mirrors the nginx convention for requests the
// client abandoned.
const statusClientClosedRequest = 499

// ChatRunner executes one conversational turn.
type ChatRunner interface {
	Execute(ctx context.Context, sess *types.Session, message string, compress bool) (*executor.Result, error)
}

// ModeSource exposes the current mode and its history.
type ModeSource interface {
	Current() types.Mode
	History() []modes.Transition
}

// SensorSource exposes the latest resource snapshot.
type SensorSource interface {
	Latest() (sensors.Snapshot, bool)
}

// Config tunes the HTTP server.
type Config struct {
	Port       int
	EnableCORS bool
}

// Deps are the collaborators handlers dispatch to. Runner and Sessions are
// required; nil Modes or Sensors degrade the endpoints that report them.
type Deps struct {
	Runner   ChatRunner
	Sessions *session.Store
	Modes    ModeSource
	Sensors  SensorSource
	Registry prometheus.Gatherer
	// Components reports per-component status strings for /health.
	Components func() map[string]string
}

// Server is the HTTP front end.
type Server struct {
	cfg     Config
	deps    Deps
	logger  *logging.Logger
	engine  *gin.Engine
	http    *http.Server
	started time.Time
}

func New(cfg Config, deps Deps, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logging.OrNop(logger).Component("server"),
		engine:  engine,
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/modes", s.handleModes)
	s.engine.POST("/chat", s.handleChat)
	s.engine.POST("/sessions", s.handleCreateSession)
	s.engine.GET("/sessions", s.handleListSessions)
	s.engine.GET("/sessions/:id", s.handleGetSession)

	gatherer := s.deps.Registry
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "port", s.cfg.Port)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.deps.Modes != nil {
		body["mode"] = s.deps.Modes.Current()
	}
	if s.deps.Sensors != nil {
		if snap, ok := s.deps.Sensors.Latest(); ok {
			body["resources"] = gin.H{
				"cpu_percent":    snap.CPUPercent,
				"memory_percent": snap.MemoryPercent,
				"disk_percent":   snap.DiskPercent,
			}
		}
	}
	if s.deps.Components != nil {
		body["components"] = s.deps.Components()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleModes(c *gin.Context) {
	if s.deps.Modes == nil {
		c.JSON(http.StatusOK, gin.H{"mode": types.ModeNormal, "history": []modes.Transition{}})
		return
	}
	history := s.deps.Modes.History()
	if history == nil {
		history = []modes.Transition{}
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":    s.deps.Modes.Current(),
		"history": history,
	})
}

func (s *Server) handleChat(c *gin.Context) {
	message := c.Query("message")
	if message == "" {
		s.fail(c, http.StatusBadRequest, "missing_message", "message query parameter is required", "")
		return
	}
	compress, _ := strconv.ParseBool(c.DefaultQuery("compress", "false"))

	ctx := c.Request.Context()
	var sess *types.Session
	var err error
	if id := c.Query("session_id"); id != "" {
		sess, err = s.deps.Sessions.Get(ctx, id)
	} else {
		sess, err = s.deps.Sessions.Create(ctx, types.ChannelChat, types.ModeNormal)
	}
	if err != nil {
		s.failFromError(c, err, "")
		return
	}

	result, err := s.deps.Runner.Execute(ctx, sess, message, compress)
	if err != nil {
		traceID := ""
		if result != nil {
			traceID = result.TraceID
		}
		s.failFromError(c, err, traceID)
		return
	}

	body := gin.H{
		"trace_id":   result.TraceID,
		"session_id": sess.ID,
		"state":      result.State,
		"response":   result.Content,
		"routing":    result.Routing,
		"timing":     result.Timing,
	}
	if result.Usage != nil {
		body["usage"] = result.Usage
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var body struct {
		Channel types.Channel `json:"channel"`
	}
	// An empty body is fine; channel defaults to CHAT.
	_ = c.ShouldBindJSON(&body)
	if body.Channel == "" {
		body.Channel = types.ChannelChat
	}
	switch body.Channel {
	case types.ChannelChat, types.ChannelCodeTask, types.ChannelSystemHealth:
	default:
		s.fail(c, http.StatusBadRequest, "invalid_channel", fmt.Sprintf("unknown channel %q", body.Channel), "")
		return
	}

	mode := types.ModeNormal
	if s.deps.Modes != nil {
		mode = s.deps.Modes.Current()
	}
	sess, err := s.deps.Sessions.Create(c.Request.Context(), body.Channel, mode)
	if err != nil {
		s.failFromError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	summaries, err := s.deps.Sessions.List(c.Request.Context(), limit)
	if err != nil {
		s.failFromError(c, err, "")
		return
	}
	if summaries == nil {
		summaries = []session.SessionSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.deps.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.failFromError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, sess)
}

// failFromError maps the error taxonomy onto HTTP statuses.
func (s *Server) failFromError(c *gin.Context, err error, traceID string) {
	kind := errors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errors.KindUserInput:
		status = http.StatusBadRequest
	case errors.KindPolicyDenied:
		status = http.StatusForbidden
	case errors.KindExhausted:
		status = http.StatusTooManyRequests
	case errors.KindUpstream:
		status = http.StatusBadGateway
	case errors.KindCancelled:
		status = statusClientClosedRequest
	}
	if kind == errors.KindUserInput && c.FullPath() == "/sessions/:id" {
		status = http.StatusNotFound
	}
	s.fail(c, status, kind.String(), err.Error(), traceID)
}

func (s *Server) fail(c *gin.Context, status int, code, message, traceID string) {
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "code", code, "err", message)
	}
	payload := gin.H{"code": code, "message": message}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	c.JSON(status, gin.H{"error": payload})
}
