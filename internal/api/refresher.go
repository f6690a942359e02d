package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/eventlive/internal/credentials"
	"github.com/haasonsaas/eventlive/internal/observability"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// RefreshScheduler refreshes the stored access token ahead of its JWT
// expiry on a cron schedule.
type RefreshScheduler struct {
	client *Client
	store  credentials.Store
	skew   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

// NewRefreshScheduler parses spec (e.g. "@every 1m") and prepares a
// scheduler. Tokens expiring within skew are refreshed.
func NewRefreshScheduler(client *Client, store credentials.Store, spec string, skew time.Duration, logger *slog.Logger) (*RefreshScheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "@every 1m"
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &RefreshScheduler{
		client: client,
		store:  store,
		skew:   skew,
		logger: observability.Component(logger, "api.refresh"),
		now:    time.Now,
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Warn("proactive refresh failed", "error", err)
		}
	}))
	return s, nil
}

// Start begins running the schedule in the background.
func (s *RefreshScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to finish.
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce refreshes the session if its access token expires within the
// skew. It reports whether a refresh happened.
func (s *RefreshScheduler) RunOnce(ctx context.Context) (bool, error) {
	session, err := s.store.Load(ctx)
	if errors.Is(err, credentials.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !credentials.ExpiresWithin(session.AccessToken, s.now(), s.skew) {
		return false, nil
	}
	if _, err := s.client.Refresh(ctx); err != nil {
		return false, err
	}
	s.logger.Info("access token refreshed ahead of expiry")
	return true, nil
}
