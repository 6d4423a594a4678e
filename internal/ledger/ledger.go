// Package ledger records which order transitions have already been notified.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"waterbar/internal/config"
	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/pkg/metrics"
	"waterbar/pkg/tracing"
)

// Ledger reserves a transition before its notification is sent.
type Ledger interface {
	// Reserve returns false when the transition was already reserved.
	Reserve(ctx context.Context, transition string) (bool, error)
	// Release forgets a reservation so the transition can be sent again.
	Release(ctx context.Context, transition string) error
}

type Service struct {
	repo         Repository
	backend      string
	ttl          time.Duration
	allowOnError bool
	logger       logger.Logger
}

func NewService(repo Repository, backend string, cfg config.LedgerConfig, log logger.Logger) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = constants.DefaultLedgerTTL
	}
	return &Service{
		repo:         repo,
		backend:      backend,
		ttl:          ttl,
		allowOnError: cfg.OnStoreError == "allow",
		logger:       log,
	}
}

// Key maps a transition to its storage key.
func Key(transition string) string {
	sum := sha256.Sum256([]byte(transition))
	return constants.CacheKeyPrefixNotify + hex.EncodeToString(sum[:])
}

func (s *Service) Reserve(ctx context.Context, transition string) (bool, error) {
	ctx, span := tracing.GetTracer("ledger").Start(ctx, "ledger.reserve")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	reserved, err := s.repo.SetNX(ctx, Key(transition), time.Now().Unix(), s.ttl)
	if err != nil {
		metrics.IncLedgerReservation(s.backend, "error")
		if s.allowOnError {
			metrics.IncFallbackUsage("ledger", "allow_on_error")
			s.logger.WarnwCtx(ctx, "Ledger error, allowing dispatch (fallback: allow)",
				"transition", transition,
				"error", err,
			)
			return true, nil
		}
		metrics.IncFallbackUsage("ledger", "deny_on_error")
		return false, fmt.Errorf("ledger reserve for %s: %w", transition, err)
	}

	if reserved {
		metrics.IncLedgerReservation(s.backend, "reserved")
	} else {
		metrics.IncLedgerReservation(s.backend, "duplicate")
	}
	return reserved, nil
}

func (s *Service) Release(ctx context.Context, transition string) error {
	if err := s.repo.Del(ctx, Key(transition)); err != nil {
		metrics.IncLedgerReservation(s.backend, "release_error")
		return fmt.Errorf("ledger release for %s: %w", transition, err)
	}
	metrics.IncLedgerReservation(s.backend, "released")
	return nil
}

// Size counts live reservations.
func (s *Service) Size(ctx context.Context) (int, error) {
	return s.repo.Count(ctx, constants.CacheKeyPrefixNotify)
}

func (s *Service) Backend() string {
	return s.backend
}
