package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seriesvault/seriesvault/internal/config"
	"github.com/seriesvault/seriesvault/internal/domain"
	errpkg "github.com/seriesvault/seriesvault/internal/errors"
	"github.com/seriesvault/seriesvault/internal/fetch"
	"github.com/seriesvault/seriesvault/internal/progress"
)

type fakeResolver struct {
	fn func(ctx context.Context, target string) (domain.SeriesListing, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, target string) (domain.SeriesListing, error) {
	return f.fn(ctx, target)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, ep domain.EpisodeRef, destPath string, onProgress fetch.ProgressFunc) (domain.FetchResult, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, ep domain.EpisodeRef, destPath string, onProgress fetch.ProgressFunc) (domain.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, ep, destPath, onProgress)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls []reconcileCall
	err   error
}

type reconcileCall struct {
	media    domain.MediaMeta
	episodes []domain.EpisodeMeta
}

func (f *fakeReconciler) Reconcile(ctx context.Context, media domain.MediaMeta, episodes []domain.EpisodeMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reconcileCall{media: media, episodes: episodes})
	return f.err
}

func (f *fakeReconciler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LibraryDir:     t.TempDir(),
		TempDir:        t.TempDir(),
		EpisodeRetries: 3,
		FetchTimeout:   time.Minute,
	}
}

func newTestSupervisor(t *testing.T, resolver fetch.Resolver, fetcher fetch.Fetcher, rec Reconciler) (*Supervisor, *progress.Reporter) {
	t.Helper()
	reporter := progress.NewReporter()
	sup := NewSupervisor(testConfig(t), reporter, resolver, fetcher, rec, newTestLogger())
	sup.preflight = func(string, int64) error { return nil }
	sup.backoff = time.Millisecond
	return sup, reporter
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}

func seriesListing(episodes int) domain.SeriesListing {
	listing := domain.SeriesListing{Title: "Test Show", Type: "series"}
	for i := 1; i <= episodes; i++ {
		listing.Episodes = append(listing.Episodes, domain.EpisodeRef{
			Season:    1,
			Number:    i,
			Title:     fmt.Sprintf("Episode %d", i),
			MediaURLs: []string{fmt.Sprintf("https://cdn.example.com/s01e%02d.mp4", i)},
		})
	}
	return listing
}

func staticResolver(listing domain.SeriesListing) *fakeResolver {
	return &fakeResolver{fn: func(context.Context, string) (domain.SeriesListing, error) {
		return listing, nil
	}}
}

func succeedingFetcher() *fakeFetcher {
	return &fakeFetcher{fn: func(_ context.Context, ep domain.EpisodeRef, destPath string, onProgress fetch.ProgressFunc) (domain.FetchResult, error) {
		onProgress(50)
		onProgress(100)
		return domain.FetchResult{Path: destPath, Size: 1024, HasGermanDub: true}, nil
	}}
}

func TestSupervisor_ConcurrentStartsExactlyOneWins(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(context.Context, domain.EpisodeRef, string, fetch.ProgressFunc) (domain.FetchResult, error) {
		<-release
		return domain.FetchResult{}, nil
	}}
	sup, _ := newTestSupervisor(t, staticResolver(seriesListing(1)), fetcher, &fakeReconciler{})

	const starters = 16
	var wg sync.WaitGroup
	results := make(chan error, starters)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- sup.Start("https://example.com/show", "")
		}()
	}
	wg.Wait()
	close(results)

	won, lost := 0, 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, errpkg.ErrAlreadyRunning):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won, "exactly one start call must win")
	assert.Equal(t, starters-1, lost)

	close(release)
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })
}

func TestSupervisor_CancelWithoutJob(t *testing.T) {
	sup, _ := newTestSupervisor(t, staticResolver(seriesListing(1)), succeedingFetcher(), &fakeReconciler{})

	err := sup.Cancel()
	require.ErrorIs(t, err, errpkg.ErrNoActiveJob)
	assert.Equal(t, domain.JobStatusIdle, sup.State().Status)
}

func TestSupervisor_CancelRunningJobEndsCancelled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(_ context.Context, ep domain.EpisodeRef, destPath string, _ fetch.ProgressFunc) (domain.FetchResult, error) {
		if ep.Number == 1 {
			close(started)
			<-release
		}
		return domain.FetchResult{Path: destPath, Size: 1}, nil
	}}
	rec := &fakeReconciler{}
	sup, _ := newTestSupervisor(t, staticResolver(seriesListing(3)), fetcher, rec)

	require.NoError(t, sup.Start("https://example.com/show", ""))
	<-started

	require.NoError(t, sup.Cancel())
	assert.Equal(t, domain.JobStatusCancelling, sup.State().Status)

	// The in-flight fetch is allowed to finish; no further episode starts.
	close(release)
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })

	assert.Equal(t, domain.JobStatusCancelled, sup.State().Status)
	assert.Equal(t, 1, fetcher.callCount(), "no new episode after cancel")
	assert.Equal(t, 0, rec.callCount(), "cancelled job must not reconcile")
	assert.False(t, sup.Status().IsDownloading)
}

func TestSupervisor_TwoEpisodeScenario(t *testing.T) {
	rec := &fakeReconciler{}
	fetcher := succeedingFetcher()
	sup, reporter := newTestSupervisor(t, staticResolver(seriesListing(2)), fetcher, rec)

	updates, cancelSub := reporter.Subscribe()
	defer cancelSub()

	var (
		mu        sync.Mutex
		snapshots []domain.ProgressSnapshot
	)
	collected := make(chan struct{})
	go func() {
		for snap := range updates {
			mu.Lock()
			snapshots = append(snapshots, snap)
			mu.Unlock()
			if !snap.IsDownloading && snap.Progress == 100 {
				close(collected)
				return
			}
		}
	}()

	require.NoError(t, sup.Start("https://example.com/show", ""))

	select {
	case <-collected:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for final snapshot")
	}

	state := sup.State()
	assert.Equal(t, domain.JobStatusCompleted, state.Status)
	require.NotNil(t, state.FinishedAt)

	mu.Lock()
	defer mu.Unlock()

	lastEpisode := 0
	for _, snap := range snapshots {
		if snap.CurrentEpisode == 0 {
			continue
		}
		require.NotNil(t, snap.TotalEpisodes)
		assert.Equal(t, 2, *snap.TotalEpisodes)
		assert.GreaterOrEqual(t, snap.CurrentEpisode, lastEpisode, "episodes advance in order")
		lastEpisode = snap.CurrentEpisode
	}
	assert.Equal(t, 2, lastEpisode)

	final := snapshots[len(snapshots)-1]
	assert.Equal(t, 100, final.Progress)
	assert.False(t, final.IsDownloading)

	require.Equal(t, 1, rec.callCount())
	require.Len(t, rec.calls[0].episodes, 2)
	assert.Equal(t, "Test Show", rec.calls[0].media.Title)
	assert.Equal(t, 1, rec.calls[0].episodes[0].Number)
	assert.Equal(t, 2, rec.calls[0].episodes[1].Number)
}

func TestSupervisor_UnrecoverableErrorAbortsJob(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context, domain.EpisodeRef, string, fetch.ProgressFunc) (domain.FetchResult, error) {
		return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindNetwork, false, errors.New("connection refused"))
	}}
	rec := &fakeReconciler{}
	sup, _ := newTestSupervisor(t, staticResolver(seriesListing(2)), fetcher, rec)

	require.NoError(t, sup.Start("https://example.com/show", ""))
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })

	state := sup.State()
	assert.Equal(t, domain.JobStatusFailed, state.Status)
	assert.NotEmpty(t, state.Error)
	assert.Equal(t, 1, fetcher.callCount(), "episode 2 must never be attempted")
	assert.Equal(t, 0, rec.callCount(), "failed job must not reconcile")
}

func TestSupervisor_RecoverableErrorContinuesWithNextEpisode(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.fn = func(_ context.Context, ep domain.EpisodeRef, destPath string, _ fetch.ProgressFunc) (domain.FetchResult, error) {
		if ep.Number == 1 {
			return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindSourceUnavailable, false, errors.New("hoster gone"))
		}
		return domain.FetchResult{Path: destPath, Size: 1}, nil
	}
	rec := &fakeReconciler{}
	sup, reporter := newTestSupervisor(t, staticResolver(seriesListing(2)), fetcher, rec)

	require.NoError(t, sup.Start("https://example.com/show", ""))
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })

	assert.Equal(t, domain.JobStatusCompleted, sup.State().Status)
	require.Equal(t, 1, rec.callCount())
	require.Len(t, rec.calls[0].episodes, 1)
	assert.Equal(t, 2, rec.calls[0].episodes[0].Number)
	assert.Contains(t, reporter.Latest().Message, "1 failed")
}

func TestSupervisor_TemporaryNetworkErrorRetries(t *testing.T) {
	fetcher := &fakeFetcher{}
	attempts := 0
	fetcher.fn = func(_ context.Context, _ domain.EpisodeRef, destPath string, _ fetch.ProgressFunc) (domain.FetchResult, error) {
		attempts++
		if attempts < 3 {
			return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindNetwork, true, errors.New("timeout"))
		}
		return domain.FetchResult{Path: destPath, Size: 1}, nil
	}
	rec := &fakeReconciler{}
	sup, _ := newTestSupervisor(t, staticResolver(seriesListing(1)), fetcher, rec)

	require.NoError(t, sup.Start("https://example.com/show", ""))
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })

	assert.Equal(t, domain.JobStatusCompleted, sup.State().Status)
	assert.Equal(t, 3, fetcher.callCount())
	assert.Equal(t, 1, rec.callCount())
}

func TestSupervisor_ProgressNeverDropsAcrossRetries(t *testing.T) {
	fetcher := &fakeFetcher{}
	attempts := 0
	fetcher.fn = func(_ context.Context, _ domain.EpisodeRef, destPath string, onProgress fetch.ProgressFunc) (domain.FetchResult, error) {
		attempts++
		if attempts == 1 {
			onProgress(60)
			return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindNetwork, true, errors.New("connection reset"))
		}
		// The retry starts over from a low percentage.
		onProgress(10)
		onProgress(100)
		return domain.FetchResult{Path: destPath, Size: 1}, nil
	}
	sup, reporter := newTestSupervisor(t, staticResolver(seriesListing(1)), fetcher, &fakeReconciler{})

	updates, cancelSub := reporter.Subscribe()
	defer cancelSub()

	var (
		mu        sync.Mutex
		snapshots []domain.ProgressSnapshot
	)
	done := make(chan struct{})
	go func() {
		for snap := range updates {
			mu.Lock()
			snapshots = append(snapshots, snap)
			mu.Unlock()
			if !snap.IsDownloading && snap.Progress == 100 {
				close(done)
				return
			}
		}
	}()

	require.NoError(t, sup.Start("https://example.com/show", ""))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for final snapshot")
	}

	assert.Equal(t, domain.JobStatusCompleted, sup.State().Status)

	mu.Lock()
	defer mu.Unlock()
	last := -1
	for _, snap := range snapshots {
		if !strings.HasPrefix(snap.Message, "downloading") {
			continue
		}
		assert.GreaterOrEqual(t, snap.Progress, last,
			"episode progress went backwards on retry: %+v", snapshots)
		last = snap.Progress
	}
	assert.Equal(t, 100, last)
}

func TestSupervisor_SkipsExistingEpisodeFiles(t *testing.T) {
	listing := seriesListing(2)
	rec := &fakeReconciler{}
	fetcher := succeedingFetcher()
	sup, reporter := newTestSupervisor(t, staticResolver(listing), fetcher, rec)

	// Pre-create the file episode 1 would be written to.
	existing := episodePath(
		filepath.Join(sup.cfg.LibraryDir, sanitizeName(listing.Title)),
		listing.Title,
		listing.Episodes[0],
	)
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("already here"), 0o644))

	require.NoError(t, sup.Start("https://example.com/show", ""))
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })

	assert.Equal(t, domain.JobStatusCompleted, sup.State().Status)
	assert.Equal(t, 1, fetcher.callCount(), "existing episode must not be fetched again")
	assert.Contains(t, reporter.Latest().Message, "1 skipped")
}

func TestSupervisor_ReconcileFailureEndsFailed(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("storage: connection lost")}
	sup, reporter := newTestSupervisor(t, staticResolver(seriesListing(1)), succeedingFetcher(), rec)

	require.NoError(t, sup.Start("https://example.com/show", ""))
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })

	assert.Equal(t, domain.JobStatusFailed, sup.State().Status)
	assert.Contains(t, sup.State().Error, "storage")
	assert.Contains(t, reporter.Latest().Message, "library update failed")
}

func TestSupervisor_ResetSessionSupersedesRunningJob(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	fetcher := &fakeFetcher{fn: func(_ context.Context, _ domain.EpisodeRef, destPath string, _ fetch.ProgressFunc) (domain.FetchResult, error) {
		started <- struct{}{}
		<-release
		return domain.FetchResult{Path: destPath, Size: 1}, nil
	}}
	rec := &fakeReconciler{}
	sup, reporter := newTestSupervisor(t, staticResolver(seriesListing(1)), fetcher, rec)

	require.NoError(t, sup.Start("https://example.com/show", ""))
	<-started
	staleToken := sup.State().Token

	sup.ResetSession()
	assert.Equal(t, domain.JobStatusIdle, sup.State().Status)

	// The slot is free again even though the stale executor is still stuck
	// in its fetch.
	require.NoError(t, sup.Start("https://example.com/other", ""))
	newToken := sup.State().Token
	require.NotEqual(t, staleToken, newToken)
	<-started

	// Let both executors finish. The stale one must not touch the slot or
	// the reconciler.
	close(release)
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })

	state := sup.State()
	assert.Equal(t, newToken, state.Token)
	assert.Equal(t, domain.JobStatusCompleted, state.Status)

	waitFor(t, 5*time.Second, func() bool { return rec.callCount() >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.callCount(), "stale executor must not reconcile")
	assert.False(t, reporter.Latest().IsDownloading)
}

func TestSupervisor_PreflightFailureDoesNotClaimSlot(t *testing.T) {
	sup, _ := newTestSupervisor(t, staticResolver(seriesListing(1)), succeedingFetcher(), &fakeReconciler{})
	sup.preflight = func(string, int64) error { return errors.New("not enough free disk space") }

	err := sup.Start("https://example.com/show", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errpkg.ErrAlreadyRunning)
	assert.Equal(t, domain.JobStatusIdle, sup.State().Status)

	// The slot stays usable.
	sup.preflight = func(string, int64) error { return nil }
	require.NoError(t, sup.Start("https://example.com/show", ""))
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })
}

func TestSupervisor_StatusBeforeAnyJob(t *testing.T) {
	sup, _ := newTestSupervisor(t, staticResolver(seriesListing(1)), succeedingFetcher(), &fakeReconciler{})

	payload := sup.Status()
	assert.False(t, payload.IsDownloading)
	assert.Nil(t, payload.Job)
}

func TestSupervisor_TerminalMessagePersistsUntilNextJob(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context, domain.EpisodeRef, string, fetch.ProgressFunc) (domain.FetchResult, error) {
		return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindNetwork, false, errors.New("connection refused"))
	}}
	sup, _ := newTestSupervisor(t, staticResolver(seriesListing(1)), fetcher, &fakeReconciler{})

	require.NoError(t, sup.Start("https://example.com/show", ""))
	waitFor(t, 5*time.Second, func() bool { return sup.State().Status.Terminal() })

	payload := sup.Status()
	require.NotNil(t, payload.Job)
	assert.False(t, payload.IsDownloading)
	assert.Contains(t, payload.Job.Message, "download failed")
}
