package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mkucukkoc/google-auth-sub004/internal/reset"
	"github.com/mkucukkoc/google-auth-sub004/internal/session"
)

// Sweeper periodically removes expired sessions and expired reset
// tokens. Both sweeps are idempotent, so overlapping or repeated runs
// are harmless.
type Sweeper struct {
	sessions *session.Store
	resets   *reset.Service
	log      *zap.Logger
	interval time.Duration
}

// NewSweeper wires a Sweeper.
func NewSweeper(sessions *session.Store, resets *reset.Service, log *zap.Logger, interval time.Duration) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		sessions: sessions,
		resets:   resets,
		log:      log,
		interval: interval,
	}
}

// Run sweeps on a ticker until ctx is cancelled. It performs one
// sweep immediately on start.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if n, err := s.sessions.PurgeExpired(ctx); err != nil {
		s.log.Error("session purge failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("purged expired sessions", zap.Int64("count", n))
	}

	if n, err := s.resets.CleanupExpired(ctx); err != nil {
		s.log.Error("reset token cleanup failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("purged expired reset tokens", zap.Int64("count", n))
	}
}
