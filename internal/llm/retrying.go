package llm

import (
	"context"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
)

// RetryingClient wraps a Client with the service retry policy. Only upstream
// failures are retried; parse and configuration errors surface immediately.
type RetryingClient struct {
	inner  Client
	config errors.RetryConfig
	logger *logging.Logger
}

func NewRetryingClient(inner Client, config errors.RetryConfig, logger *logging.Logger) *RetryingClient {
	return &RetryingClient{
		inner:  inner,
		config: config,
		logger: logging.OrNop(logger).Component("llm"),
	}
}

func (c *RetryingClient) Chat(ctx context.Context, req Request) (*Response, error) {
	return errors.RetryResult(ctx, c.config, c.logger, func(ctx context.Context) (*Response, error) {
		return c.inner.Chat(ctx, req)
	})
}
