package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairlab/pairing-server-go/internal/repository"
)

// Sweeper periodically expires overdue pairing requests, purges
// terminal records past the retention window, and drops stale provider
// login states. Expiry is also enforced lazily on every read, so the
// sweep only bounds how long dead records linger.
type Sweeper struct {
	pairingRepo repository.PairingRepository
	stateRepo   repository.ProviderStateRepository
	interval    time.Duration
	retention   time.Duration
	done        chan struct{}
}

func NewSweeper(
	pairingRepo repository.PairingRepository,
	stateRepo repository.ProviderStateRepository,
	interval time.Duration,
	retention time.Duration,
) *Sweeper {
	return &Sweeper{
		pairingRepo: pairingRepo,
		stateRepo:   stateRepo,
		interval:    interval,
		retention:   retention,
		done:        make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
	log.Info().Dur("interval", s.interval).Msg("sweeper started")
}

func (s *Sweeper) Stop() {
	close(s.done)
	log.Info().Msg("sweeper stopped")
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.runStep(ctx, "overdue pairing requests", s.pairingRepo.MarkExpired)
	s.runStep(ctx, "retained terminal requests", func(ctx context.Context) (int64, error) {
		return s.pairingRepo.PurgeTerminal(ctx, s.retention)
	})
	s.runStep(ctx, "stale login states", s.stateRepo.DeleteExpired)
}

func (s *Sweeper) runStep(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("swept %s", name)
	}
}
