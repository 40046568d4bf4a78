// Package gate is the admission-control gateway: one pre-invocation check
// composing payload validation, scope authorization, and rate limiting into
// a single allow/deny decision. Checks run fail-fast in a fixed order; a
// rejection never mutates any state (a denied request does not even touch
// the rate counters).
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexhub/cortex-toolrunner/internal/metrics"
	"github.com/cortexhub/cortex-toolrunner/internal/payload"
	"github.com/cortexhub/cortex-toolrunner/internal/ratelimit"
	"github.com/cortexhub/cortex-toolrunner/internal/scope"
)

// Admission rejection codes.
const (
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeInvalidStructure = "INVALID_STRUCTURE"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeRateLimited      = "RATE_LIMITED"
)

// Error is a typed admission rejection. It is a synchronous result value:
// no task exists when admission fails.
type Error struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Request is one admission attempt.
type Request struct {
	Subject    string
	Capability string
	// Payload is the decoded JSON payload; RawSize the serialized byte
	// count it arrived as.
	Payload     any
	RawSize     int
	Scopes      []string
	CallerClass string
}

// Gateway composes the admission checks.
type Gateway struct {
	limits     payload.Limits
	authorizer *scope.Authorizer
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(limits payload.Limits, authorizer *scope.Authorizer, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{
		limits:     limits,
		authorizer: authorizer,
		limiter:    limiter,
		metrics:    m,
		logger:     logger,
	}
}

// Admit runs the checks in order: size, structure, scope, rate. The first
// failure wins. A nil return means admitted; the only side effect of
// success is the rate-counter increment.
func (g *Gateway) Admit(ctx context.Context, req Request) *Error {
	if err := payload.CheckSize(req.RawSize, g.limits); err != nil {
		return g.reject(req, &Error{
			Code:    CodePayloadTooLarge,
			Message: err.Error(),
		})
	}

	if err := payload.Check(req.Payload, g.limits); err != nil {
		return g.reject(req, &Error{
			Code:    CodeInvalidStructure,
			Message: err.Error(),
		})
	}

	if missing, ok := g.authorizer.Authorize(req.Capability, req.Scopes); !ok {
		return g.reject(req, &Error{
			Code:    CodePermissionDenied,
			Message: fmt.Sprintf("capability %q requires scope %q", req.Capability, missing),
			Detail:  missing,
		})
	}

	res, err := g.limiter.Allow(ctx, req.Subject, req.Capability)
	if err != nil {
		// A broken counter store must not take the runtime down with it;
		// log and admit.
		g.logger.Error("rate-limit store unavailable", "error", err)
		return nil
	}
	if !res.Allowed {
		return g.reject(req, &Error{
			Code:       CodeRateLimited,
			Message:    fmt.Sprintf("rate limit exceeded for %s", ratelimit.Key(req.Subject, req.Capability)),
			RetryAfter: res.RetryAfter,
		})
	}

	return nil
}

func (g *Gateway) reject(req Request, e *Error) *Error {
	g.metrics.Rejection(e.Code)
	g.logger.Info("admission rejected",
		"subject", req.Subject,
		"capability", req.Capability,
		"code", e.Code,
	)
	return e
}
