package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/seriesvault/seriesvault/internal/config"
	"github.com/seriesvault/seriesvault/internal/domain"
	errpkg "github.com/seriesvault/seriesvault/internal/errors"
	"github.com/seriesvault/seriesvault/internal/fetch"
	"github.com/seriesvault/seriesvault/internal/metrics"
	"github.com/seriesvault/seriesvault/internal/progress"
)

// Reconciler writes a finished job into the persistent library.
type Reconciler interface {
	Reconcile(ctx context.Context, media domain.MediaMeta, episodes []domain.EpisodeMeta) error
}

// Supervisor owns the single process-wide job slot. All slot state and
// every progress publication goes through its lock, so publications are
// totally ordered and a superseded executor can never write over a newer
// job's state: each executor carries the token minted at start and every
// write checks it.
type Supervisor struct {
	mu    sync.Mutex
	state domain.JobState

	cfg      *config.Config
	reporter *progress.Reporter
	resolver fetch.Resolver
	fetcher  fetch.Fetcher
	rec      Reconciler
	logger   *slog.Logger

	// preflight is called before the slot is claimed; tests override it.
	preflight func(dir string, minFree int64) error
	// backoff is the base delay between episode retry attempts.
	backoff time.Duration
}

func NewSupervisor(
	cfg *config.Config,
	reporter *progress.Reporter,
	resolver fetch.Resolver,
	fetcher fetch.Fetcher,
	rec Reconciler,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		state:     domain.JobState{Status: domain.JobStatusIdle},
		cfg:       cfg,
		reporter:  reporter,
		resolver:  resolver,
		fetcher:   fetcher,
		rec:       rec,
		logger:    logger,
		preflight: checkFreeDisk,
		backoff:   5 * time.Second,
	}
}

// Start claims the job slot and launches the executor in the background.
// Exactly one concurrent caller wins; the rest get ErrAlreadyRunning.
func (s *Supervisor) Start(target, seriesName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status.Active() {
		return errpkg.ErrAlreadyRunning
	}

	if err := s.preflight(s.cfg.LibraryDir, s.cfg.MinFreeDisk); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}

	token := shortuuid.New()
	s.state = domain.JobState{
		Status:    domain.JobStatusRunning,
		Token:     token,
		Target:    target,
		Title:     seriesName,
		StartedAt: time.Now(),
	}
	s.reporter.Publish(domain.ProgressSnapshot{
		SeriesName:    seriesName,
		Message:       "download started",
		IsDownloading: true,
	})
	metrics.JobsStarted.Inc()

	s.logger.Info("job started", "token", token, "target", target)

	ex := &executor{sup: s, token: token, target: target, seriesName: seriesName}
	go ex.run(context.Background())

	return nil
}

// Cancel requests cooperative cancellation of the running job. It returns
// immediately; the executor stops before the next episode. ErrNoActiveJob
// signals there was nothing to cancel.
func (s *Supervisor) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Status.Active() {
		return errpkg.ErrNoActiveJob
	}

	s.state.Status = domain.JobStatusCancelling
	s.state.CancelRequested = true

	snap := s.reporter.Latest()
	snap.Message = "cancellation requested"
	snap.IsDownloading = true
	s.reporter.Publish(snap)

	s.logger.Info("job cancellation requested", "token", s.state.Token)
	return nil
}

// Status returns the current slot state and progress snapshot without
// blocking on the executor.
func (s *Supervisor) Status() domain.StatusPayload {
	s.mu.Lock()
	neverRan := s.state.Status == domain.JobStatusIdle && s.state.Token == ""
	active := s.state.Status.Active()
	s.mu.Unlock()

	if neverRan {
		return domain.StatusPayload{}
	}
	snap := s.reporter.Latest()
	return domain.StatusPayload{IsDownloading: active, Job: &snap}
}

// State returns a copy of the slot bookkeeping, mainly for tests and
// diagnostics.
func (s *Supervisor) State() domain.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ResetSession forces the slot back to idle regardless of executor state.
// It does not stop in-flight I/O: a stale executor keeps running but its
// token no longer matches, so every later write it attempts is discarded.
func (s *Supervisor) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Token != "" {
		s.logger.Warn("session reset", "token", s.state.Token, "status", s.state.Status)
	}
	s.state = domain.JobState{Status: domain.JobStatusIdle}
	s.reporter.Publish(domain.ProgressSnapshot{})
}

// cancelRequested reports the cooperative cancel flag for the executor
// holding token. A superseded token reads as cancelled so a stale executor
// winds down at its next check instead of fetching further episodes.
func (s *Supervisor) cancelRequested(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Token != token {
		return true
	}
	return s.state.CancelRequested
}

// setListing records the resolved title and episode count. Returns false
// when the executor has been superseded.
func (s *Supervisor) setListing(token, title string, total int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Token != token {
		return false
	}
	s.state.Title = title
	s.reporter.Publish(domain.ProgressSnapshot{
		SeriesName:    title,
		Message:       fmt.Sprintf("found %d episodes", total),
		TotalEpisodes: &total,
		IsDownloading: true,
	})
	return true
}

// publishProgress publishes a snapshot on behalf of the executor holding
// token. Superseded writes are silently dropped.
func (s *Supervisor) publishProgress(token string, snap domain.ProgressSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Token != token {
		return false
	}
	snap.IsDownloading = s.state.Status.Active()
	s.reporter.Publish(snap)
	return true
}

// finish releases the slot with a terminal status and publishes the final
// snapshot. It is called on every executor exit path. Returns false when
// the executor was superseded, in which case nothing is written.
func (s *Supervisor) finish(token string, status domain.JobStatus, errMsg, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Token != token {
		s.logger.Warn("discarding result of superseded job", "token", token, "status", status)
		return false
	}

	// A cancel that lands after the last episode finished still wins: a
	// cancelled job never reports Completed.
	if status == domain.JobStatusCompleted && s.state.CancelRequested {
		status = domain.JobStatusCancelled
		message = "download cancelled"
		errMsg = ""
	}

	now := time.Now()
	s.state.Status = status
	s.state.FinishedAt = &now
	s.state.CancelRequested = false
	s.state.Error = errMsg

	snap := s.reporter.Latest()
	snap.Message = message
	snap.IsDownloading = false
	if status == domain.JobStatusCompleted {
		snap.Progress = 100
	}
	s.reporter.Publish(snap)

	switch status {
	case domain.JobStatusCompleted:
		metrics.JobsCompleted.Inc()
	case domain.JobStatusFailed:
		metrics.JobsFailed.Inc()
	case domain.JobStatusCancelled:
		metrics.JobsCancelled.Inc()
	}

	s.logger.Info("job finished", "token", token, "status", status, "message", message)
	return true
}
