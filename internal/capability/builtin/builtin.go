// Package builtin provides in-process capabilities that register at
// startup. Real business tools live outside the runtime; these keep it
// runnable and exercised end to end.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cortexhub/cortex-toolrunner/internal/registry"
)

// Register adds the builtin pack to a registry.
func Register(reg *registry.Registry) {
	reg.Register("echo.say", "returns its payload unchanged", func() (registry.Capability, error) {
		return &echo{}, nil
	})
	reg.Register("clock.sleep", "sleeps for duration_ms, honoring cancellation", func() (registry.Capability, error) {
		return &sleeper{}, nil
	})
	reg.Register("text.stats", "word and character counts for a text field", func() (registry.Capability, error) {
		return &textStats{}, nil
	})
}

type echo struct{}

func (e *echo) Invoke(_ context.Context, payload map[string]any) (any, error) {
	return payload, nil
}

type sleeper struct{}

func (s *sleeper) ValidateInput(payload map[string]any) error {
	if _, ok := payload["duration_ms"].(float64); !ok {
		return fmt.Errorf("duration_ms (number) is required")
	}
	return nil
}

func (s *sleeper) Invoke(ctx context.Context, payload map[string]any) (any, error) {
	ms, _ := payload["duration_ms"].(float64)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return map[string]any{"slept_ms": ms}, nil
	}
}

type textStats struct{}

func (t *textStats) ValidateInput(payload map[string]any) error {
	if _, ok := payload["text"].(string); !ok {
		return fmt.Errorf("text (string) is required")
	}
	return nil
}

func (t *textStats) Invoke(_ context.Context, payload map[string]any) (any, error) {
	text, _ := payload["text"].(string)
	return map[string]any{
		"words": len(strings.Fields(text)),
		"chars": len(text),
	}, nil
}
