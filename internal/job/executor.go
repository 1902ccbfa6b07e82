package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seriesvault/seriesvault/internal/domain"
	errpkg "github.com/seriesvault/seriesvault/internal/errors"
	"github.com/seriesvault/seriesvault/internal/metrics"
)

// executor runs one download job on its own goroutine. All shared-state
// writes go through the supervisor, gated on the job token, so an executor
// that outlives a session reset cannot corrupt a newer job.
type executor struct {
	sup        *Supervisor
	token      string
	target     string
	seriesName string
}

func (e *executor) run(ctx context.Context) {
	logger := e.sup.logger.With("token", e.token, "target", e.target)

	listing, err := e.sup.resolver.Resolve(ctx, e.target)
	if err != nil {
		logger.Error("target resolution failed", "error", err)
		e.sup.finish(e.token, domain.JobStatusFailed, err.Error(),
			fmt.Sprintf("could not resolve target: %v", err))
		return
	}

	title := listing.Title
	if e.seriesName != "" {
		title = e.seriesName
	}
	if title == "" {
		title = e.target
	}

	total := len(listing.Episodes)
	if !e.sup.setListing(e.token, title, total) {
		return
	}
	if total == 0 {
		e.sup.finish(e.token, domain.JobStatusCompleted, "", "no episodes found")
		return
	}

	mediaDir := filepath.Join(e.sup.cfg.LibraryDir, sanitizeName(title))

	var (
		finished  []domain.EpisodeMeta
		failures  []string
		skipped   int
		fatalErr  *errpkg.FetchError
		cancelled bool
	)

	for i, ep := range listing.Episodes {
		if e.sup.cancelRequested(e.token) {
			cancelled = true
			break
		}

		current := i + 1
		destPath := episodePath(mediaDir, title, ep)

		if fileExists(destPath) {
			logger.Info("episode file already exists, skipping", "path", destPath)
			metrics.EpisodesSkipped.Inc()
			skipped++
			continue
		}

		e.sup.publishProgress(e.token, domain.ProgressSnapshot{
			SeriesName:     title,
			Message:        fmt.Sprintf("fetching S%02dE%02d", ep.Season, ep.Number),
			Progress:       0,
			CurrentEpisode: current,
			TotalEpisodes:  &total,
		})

		result, err := e.fetchWithRetry(ctx, ep, destPath, title, current, total)
		if err != nil {
			fe := errpkg.AsFetchError(err)
			if fe.Kind == errpkg.KindCancelled {
				cancelled = true
				break
			}

			metrics.EpisodesFailed.Inc()
			failures = append(failures, fmt.Sprintf("S%02dE%02d (%s)", ep.Season, ep.Number, fe.Kind))
			logger.Error("episode fetch failed",
				"season", ep.Season,
				"episode", ep.Number,
				"kind", fe.Kind,
				"error", fe.Err,
			)

			if !fe.Recoverable() {
				fatalErr = fe
				break
			}
			continue
		}

		metrics.EpisodesFetched.Inc()
		finished = append(finished, domain.EpisodeMeta{
			Season:       ep.Season,
			Number:       ep.Number,
			Title:        ep.Title,
			Path:         result.Path,
			Size:         result.Size,
			HasGermanDub: result.HasGermanDub,
			HasGermanSub: result.HasGermanSub,
		})

		e.sup.publishProgress(e.token, domain.ProgressSnapshot{
			SeriesName:     title,
			Message:        fmt.Sprintf("finished S%02dE%02d", ep.Season, ep.Number),
			Progress:       100,
			CurrentEpisode: current,
			TotalEpisodes:  &total,
		})
	}

	// A cancel or session reset that landed after the last episode still
	// takes effect before any library write.
	if !cancelled && e.sup.cancelRequested(e.token) {
		cancelled = true
	}

	switch {
	case cancelled:
		e.sup.finish(e.token, domain.JobStatusCancelled, "", "download cancelled")
		return
	case fatalErr != nil:
		e.sup.finish(e.token, domain.JobStatusFailed, fatalErr.Error(),
			fmt.Sprintf("download failed: %v", fatalErr.Err))
		return
	}

	if len(finished) > 0 {
		media := domain.MediaMeta{
			Title:     title,
			Type:      listing.Type,
			URL:       e.target,
			Directory: mediaDir,
		}
		if err := e.sup.rec.Reconcile(ctx, media, finished); err != nil {
			// Downloaded files stay on disk even when bookkeeping fails.
			logger.Error("library reconciliation failed", "error", err)
			e.sup.finish(e.token, domain.JobStatusFailed, err.Error(),
				fmt.Sprintf("library update failed: %v", err))
			return
		}
	}

	e.sup.finish(e.token, domain.JobStatusCompleted, "", summaryMessage(len(finished), skipped, failures))
}

// fetchWithRetry retries temporary network failures with exponential
// backoff. Other failure kinds surface immediately.
func (e *executor) fetchWithRetry(ctx context.Context, ep domain.EpisodeRef, destPath, title string, current, total int) (domain.FetchResult, error) {
	// A retry restarts the transfer from zero; within one episode the
	// published progress never goes backwards.
	highest := -1
	onProgress := func(percent int) {
		if percent <= highest {
			return
		}
		highest = percent
		e.sup.publishProgress(e.token, domain.ProgressSnapshot{
			SeriesName:     title,
			Message:        fmt.Sprintf("downloading S%02dE%02d", ep.Season, ep.Number),
			Progress:       percent,
			CurrentEpisode: current,
			TotalEpisodes:  &total,
		})
	}

	var lastErr error
	for attempt := 1; attempt <= e.sup.cfg.EpisodeRetries; attempt++ {
		if attempt > 1 {
			// 1x, 2x, 4x ... of the base backoff.
			wait := e.sup.backoff * time.Duration(1<<(attempt-2))
			time.Sleep(wait)
			if e.sup.cancelRequested(e.token) {
				return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindCancelled, false, context.Canceled)
			}
		}

		result, err := e.sup.fetcher.Fetch(ctx, ep, destPath, onProgress)
		if err == nil {
			return result, nil
		}
		lastErr = err

		fe := errpkg.AsFetchError(err)
		if fe.Kind != errpkg.KindNetwork || !fe.Temporary {
			return domain.FetchResult{}, err
		}
	}
	return domain.FetchResult{}, lastErr
}

func summaryMessage(finished, skipped int, failures []string) string {
	msg := fmt.Sprintf("download complete: %d episodes", finished)
	if skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", skipped)
	}
	if len(failures) > 0 {
		msg += fmt.Sprintf(", %d failed: %s", len(failures), strings.Join(failures, ", "))
	}
	return msg
}

// episodePath builds the library path for one episode:
// <media>/Season NN/<title> - SnnEmm - <episode title>.mp4
func episodePath(mediaDir, title string, ep domain.EpisodeRef) string {
	name := fmt.Sprintf("%s - S%02dE%02d", title, ep.Season, ep.Number)
	if ep.Title != "" && ep.Title != title {
		name += " - " + ep.Title
	}
	return filepath.Join(
		mediaDir,
		fmt.Sprintf("Season %02d", ep.Season),
		sanitizeName(name)+".mp4",
	)
}

var nameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

func sanitizeName(name string) string {
	return strings.TrimSpace(nameReplacer.Replace(name))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
