// Package advice writes the personalized hydration copy for follow-up emails.
package advice

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/pkg/circuitbreaker"
	"waterbar/pkg/metrics"
	"waterbar/pkg/models"
	"waterbar/pkg/tracing"
)

type Generator struct {
	provider Provider
	fallback string
	timeout  time.Duration
	cb       *circuitbreaker.Wrapper
	logger   logger.Logger
}

type Option func(*Generator)

func WithCircuitBreaker(cb *circuitbreaker.Wrapper) Option {
	return func(g *Generator) { g.cb = cb }
}

func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithFallback(text string) Option {
	return func(g *Generator) {
		if text != "" {
			g.fallback = text
		}
	}
}

// NewGenerator returns a generator. A nil provider always yields the fallback.
func NewGenerator(provider Provider, log logger.Logger, opts ...Option) *Generator {
	g := &Generator{
		provider: provider,
		fallback: constants.FallbackAdvice,
		timeout:  constants.DefaultAdviceTimeout,
		logger:   log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) ProviderName() string {
	if g.provider == nil {
		return constants.ProviderNone
	}
	return g.provider.Name()
}

// Generate never fails: any provider error, timeout or empty answer yields
// the static fallback advice.
func (g *Generator) Generate(ctx context.Context, consumed, remaining []models.OrderItem, booking *models.BookingContext) models.FollowUpContext {
	fc := models.FollowUpContext{Advice: g.fallback}
	if booking != nil {
		fc.ExperienceName = booking.ExperienceName
	}

	if g.provider == nil {
		metrics.IncFallbackUsage("advice", "no_provider")
		return fc
	}
	if len(consumed) == 0 {
		metrics.IncFallbackUsage("advice", "nothing_consumed")
		return fc
	}

	name := g.provider.Name()
	ctx, span := tracing.GetTracer("advice").Start(ctx, "advice.generate",
		trace.WithAttributes(attribute.String("advice.provider", name)),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := BuildPrompt(consumed, remaining, booking)

	start := time.Now()
	text, err := circuitbreaker.Do(callCtx, g.cb, func() (string, error) {
		return g.provider.Generate(callCtx, prompt)
	})
	metrics.ObserveAdviceDuration(name, time.Since(start))

	if err != nil {
		tracing.Fail(span, err)
		metrics.IncAdviceRequest(name, "error")
		metrics.IncFallbackUsage("advice", "provider_error")
		g.logger.WarnwCtx(ctx, "Advice generation failed, using fallback",
			"provider", name,
			"error", err,
		)
		return fc
	}
	if text == "" {
		metrics.IncAdviceRequest(name, "empty")
		metrics.IncFallbackUsage("advice", "empty_response")
		return fc
	}

	metrics.IncAdviceRequest(name, "success")
	fc.Advice = text
	return fc
}
