// internal/oracle/client.go
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tarvos-labs/deskpilot/api/schemas"
	"github.com/tarvos-labs/deskpilot/internal/config"
)

// Backend is the vendor-specific generation surface. One implementation per
// provider; the client never branches on provider identity beyond this.
type Backend interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, image []byte) (string, error)
	Name() string
}

// Client adapts a vendor Backend to the decision core's Oracle interface:
// it renders prompts, throttles outbound calls, and maps every failure into
// the oracle error taxonomy.
type Client struct {
	logger  *zap.Logger
	backend Backend
	limiter *rate.Limiter
}

var _ schemas.Oracle = (*Client)(nil)

// NewClient wraps a backend. ratePerSecond <= 0 disables throttling.
func NewClient(backend Backend, ratePerSecond float64, logger *zap.Logger) *Client {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &Client{
		logger:  logger.Named("oracle").With(zap.String("backend", backend.Name())),
		backend: backend,
		limiter: limiter,
	}
}

// New builds the configured provider backend and wraps it in a Client.
func New(cfg config.OracleConfig, logger *zap.Logger) (*Client, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		backend, err = NewGeminiBackend(cfg, logger)
	case config.ProviderOpenAI:
		backend, err = NewOpenAIBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported oracle provider configured: %q. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(backend, cfg.RatePerSecond, logger), nil
}

// ProposeAction asks the backend for the single next interaction.
func (c *Client) ProposeAction(ctx context.Context, obs schemas.Observation, bundle schemas.ContextBundle) (schemas.Proposal, error) {
	response, err := c.generate(ctx, actionSystemPrompt, buildActionPrompt(bundle), obs.Image)
	if err != nil {
		return schemas.Proposal{}, err
	}
	return parseProposal(response)
}

// ProposePlan asks the backend for a strategic or tactical decomposition.
func (c *Client) ProposePlan(ctx context.Context, obs schemas.Observation, req schemas.PlanRequest) (schemas.PlanProposal, error) {
	response, err := c.generate(ctx, planSystemPrompt, buildPlanPrompt(req), obs.Image)
	if err != nil {
		return schemas.PlanProposal{}, err
	}
	return parsePlan(response)
}

// Extract reads one named datum off the observation.
func (c *Client) Extract(ctx context.Context, obs schemas.Observation, query string) (string, error) {
	response, err := c.generate(ctx, extractSystemPrompt, "QUERY: "+query, obs.Image)
	if err != nil {
		return "", err
	}
	response = strings.TrimSpace(response)
	if response == "NOT_VISIBLE" {
		return "", &schemas.OracleError{
			Reason: schemas.OracleMalformedResponse,
			Err:    fmt.Errorf("value for %q not visible on screen", query),
		}
	}
	return response, nil
}

func (c *Client) generate(ctx context.Context, systemPrompt, userPrompt string, image []byte) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &schemas.OracleError{Reason: schemas.OracleTimeout, Err: err}
		}
	}

	response, err := c.backend.Generate(ctx, systemPrompt, userPrompt, image)
	if err != nil {
		return "", c.classify(err)
	}
	return response, nil
}

// classify maps transport-level failures into the oracle error taxonomy so
// the controller's recovery policy can key on reasons, not on messages.
func (c *Client) classify(err error) error {
	var oracleErr *schemas.OracleError
	if errors.As(err, &oracleErr) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return &schemas.OracleError{Reason: schemas.OracleTimeout, Err: err}
	case strings.Contains(err.Error(), fmt.Sprintf("status %d", http.StatusTooManyRequests)):
		return &schemas.OracleError{Reason: schemas.OracleRateLimited, Err: err}
	case strings.Contains(err.Error(), "Client.Timeout"):
		return &schemas.OracleError{Reason: schemas.OracleTimeout, Err: err}
	default:
		return &schemas.OracleError{Reason: schemas.OracleMalformedResponse, Err: err}
	}
}
