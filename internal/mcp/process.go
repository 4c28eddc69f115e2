package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/async"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
)

// Process runs the gateway executable and owns its pipes. Exit notifications
// land on ExitChannel so the owner can decide whether to restart.
type Process struct {
	command string
	args    []string
	env     []string
	logger  *logging.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	running  bool
	exitChan chan error
	waitDone chan error
}

// ProcessConfig describes the gateway command line.
type ProcessConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

func NewProcess(cfg ProcessConfig, logger *logging.Logger) *Process {
	p := &Process{
		command:  cfg.Command,
		args:     cfg.Args,
		logger:   logging.OrNop(logger).Component("mcp"),
		exitChan: make(chan error, 1),
	}
	for k, v := range cfg.Env {
		p.env = append(p.env, fmt.Sprintf("%s=%s", k, v))
	}
	return p
}

// Start spawns the gateway process and begins monitoring it.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("gateway process already running")
	}

	resolved, err := resolveExecutable(p.command)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, resolved, p.args...)
	if len(p.env) > 0 {
		cmd.Env = p.env
	}
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if p.stderr, err = cmd.StderrPipe(); err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	p.cmd = cmd
	p.running = true
	p.waitDone = make(chan error, 1)
	p.logger.Info("gateway process started", "command", p.command, "pid", cmd.Process.Pid)

	stderr := p.stderr
	async.Go(p.logger, "mcp.stderr", func() { p.drainStderr(stderr) })
	async.Go(p.logger, "mcp.wait", func() { p.waitForExit() })
	return nil
}

func resolveExecutable(command string) (string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", fmt.Errorf("gateway command is empty")
	}
	resolved, err := exec.LookPath(trimmed)
	if err != nil {
		return "", fmt.Errorf("gateway command not found: %w", err)
	}
	return resolved, nil
}

// Stop closes stdin for a graceful exit and kills the process after the
// timeout. Safe to call when not running.
func (p *Process) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cmd, stdin, waitDone := p.cmd, p.stdin, p.waitDone
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	select {
	case err := <-waitDone:
		p.logger.Info("gateway process exited", "err", err)
		return nil
	case <-time.After(timeout):
		p.logger.Warn("gateway did not exit in time, killing")
		if cmd != nil && cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				return fmt.Errorf("kill gateway: %w", err)
			}
		}
		return nil
	}
}

// Running reports whether the process is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Write sends one framed message to the gateway's stdin.
func (p *Process) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.stdin == nil {
		return fmt.Errorf("gateway process not running")
	}
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("write to gateway: %w", err)
	}
	return nil
}

// Stdout exposes the response stream for the client's read loop.
func (p *Process) Stdout() io.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

// ExitChannel delivers one notification when the process dies on its own.
func (p *Process) ExitChannel() <-chan error {
	return p.exitChan
}

func (p *Process) drainStderr(stderr io.Reader) {
	if stderr == nil {
		return
	}
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		p.logger.Debug("gateway stderr", "line", scanner.Text())
	}
}

func (p *Process) waitForExit() {
	err := p.cmd.Wait()
	select {
	case p.waitDone <- err:
	default:
	}

	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.mu.Unlock()

	if wasRunning {
		p.logger.Error("gateway process exited unexpectedly", "err", err)
		select {
		case p.exitChan <- err:
		default:
		}
	}
}
