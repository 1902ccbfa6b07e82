package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/seriesvault/seriesvault/internal/domain"
	errpkg "github.com/seriesvault/seriesvault/internal/errors"
	"github.com/seriesvault/seriesvault/internal/metrics"
)

// ProgressFunc receives fetch progress as a percentage. Values are
// monotonically non-decreasing within a single Fetch call.
type ProgressFunc func(percent int)

// Fetcher resolves an episode's media into a finished local file.
type Fetcher interface {
	Fetch(ctx context.Context, ep domain.EpisodeRef, destPath string, onProgress ProgressFunc) (domain.FetchResult, error)
}

// Resolver turns a download target into an ordered episode listing. The
// site-scraping implementation lives outside this module; tests and the
// direct-URL path provide their own.
type Resolver interface {
	Resolve(ctx context.Context, target string) (domain.SeriesListing, error)
}

// LanguageGuard is the audio-track suitability collaborator.
type LanguageGuard interface {
	Inspect(ctx context.Context, path string) (domain.LanguageVerdict, error)
}

// Remuxer rewrites a file keeping only the audio stream at audioIndex.
type Remuxer interface {
	Remux(ctx context.Context, in, out string, audioIndex int) error
}

// HTTPFetcher downloads episode media over HTTP, runs the language guard on
// the result, and remuxes when instructed. Mirrors are tried in order until
// one succeeds.
type HTTPFetcher struct {
	client   *http.Client
	tempDir  string
	guard    LanguageGuard
	remuxer  Remuxer
	allowSub bool
	logger   *slog.Logger
}

// NewHTTPFetcher builds a fetcher. With allowSub set, a file without a
// German audio track is still accepted when it carries German subtitles.
func NewHTTPFetcher(timeout time.Duration, tempDir string, guard LanguageGuard, remuxer Remuxer, allowSub bool, logger *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		tempDir:  tempDir,
		guard:    guard,
		remuxer:  remuxer,
		allowSub: allowSub,
		logger:   logger,
	}
}

// Fetch downloads one episode to destPath. Each mirror is attempted in
// order; the error of the last mirror wins when all fail.
func (f *HTTPFetcher) Fetch(ctx context.Context, ep domain.EpisodeRef, destPath string, onProgress ProgressFunc) (domain.FetchResult, error) {
	if len(ep.MediaURLs) == 0 {
		return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindSourceUnavailable, false,
			fmt.Errorf("no media URLs for S%02dE%02d", ep.Season, ep.Number))
	}

	// A later mirror restarts the transfer from zero; reported progress
	// keeps the highest value seen so far within this call.
	if onProgress != nil {
		reported := -1
		inner := onProgress
		onProgress = func(percent int) {
			if percent > reported {
				reported = percent
				inner(percent)
			}
		}
	}

	var lastErr error
	for i, mediaURL := range ep.MediaURLs {
		if err := ctx.Err(); err != nil {
			return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindCancelled, false, err)
		}

		result, err := f.fetchOne(ctx, mediaURL, destPath, onProgress)
		if err == nil {
			return result, nil
		}

		fe := errpkg.AsFetchError(err)
		if fe.Kind == errpkg.KindCancelled {
			return domain.FetchResult{}, err
		}

		f.logger.Warn("mirror failed",
			"season", ep.Season,
			"episode", ep.Number,
			"mirror", i+1,
			"mirrors", len(ep.MediaURLs),
			"error", err,
		)
		lastErr = err
	}
	return domain.FetchResult{}, lastErr
}

func (f *HTTPFetcher) fetchOne(ctx context.Context, mediaURL, destPath string, onProgress ProgressFunc) (domain.FetchResult, error) {
	start := time.Now()

	tmpPath := filepath.Join(f.tempDir, uuid.New().String()+filepath.Ext(destPath))
	defer os.Remove(tmpPath)

	size, err := f.download(ctx, mediaURL, tmpPath, onProgress)
	if err != nil {
		return domain.FetchResult{}, err
	}

	verdict, err := f.guard.Inspect(ctx, tmpPath)
	if err != nil {
		return domain.FetchResult{}, err
	}

	// Reject the mirror when the file has no usable German track, so the
	// next mirror gets a chance.
	if !verdict.HasGermanDub && !(f.allowSub && verdict.HasGermanSub) {
		return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindSourceUnavailable, false,
			fmt.Errorf("no German audio or subtitle track in %s", mediaURL))
	}

	if verdict.NeedsRemux {
		remuxPath := tmpPath + ".remux" + filepath.Ext(destPath)
		if err := f.remuxer.Remux(ctx, tmpPath, remuxPath, verdict.AudioIndex); err != nil {
			return domain.FetchResult{}, err
		}
		os.Remove(tmpPath)
		tmpPath = remuxPath
		defer os.Remove(remuxPath)

		info, err := os.Stat(tmpPath)
		if err != nil {
			return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindTranscode, false, err)
		}
		size = info.Size()
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindTranscode, false, err)
	}
	if err := moveFile(tmpPath, destPath); err != nil {
		return domain.FetchResult{}, errpkg.NewFetchError(errpkg.KindTranscode, false, err)
	}

	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	metrics.FetchBytes.Add(float64(size))

	return domain.FetchResult{
		Path:         destPath,
		Size:         size,
		HasGermanDub: verdict.HasGermanDub,
		HasGermanSub: verdict.HasGermanSub,
	}, nil
}

func (f *HTTPFetcher) download(ctx context.Context, mediaURL, path string, onProgress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return 0, errpkg.NewFetchError(errpkg.KindNetwork, false, fmt.Errorf("create request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, classifyStatus(resp.StatusCode, resp.Status)
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, errpkg.NewFetchError(errpkg.KindNetwork, false, fmt.Errorf("create file: %w", err))
	}
	defer file.Close()

	written, err := copyWithProgress(ctx, file, resp.Body, resp.ContentLength, onProgress)
	if err != nil {
		os.Remove(path)
		return 0, classifyTransportError(ctx, err)
	}

	if onProgress != nil {
		onProgress(100)
	}
	return written, nil
}

// copyWithProgress copies src to dst, checking the context between reads
// and reporting whole-percent progress when total is known.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	lastPercent := -1

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}

			if total > 0 && onProgress != nil {
				percent := int(written * 100 / total)
				if percent > 100 {
					percent = 100
				}
				if percent > lastPercent {
					lastPercent = percent
					onProgress(percent)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errpkg.NewFetchError(errpkg.KindCancelled, false, ctx.Err())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errpkg.NewFetchError(errpkg.KindNetwork, true, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return errpkg.NewFetchError(errpkg.KindNetwork, true, err)
	}
	return errpkg.NewFetchError(errpkg.KindNetwork, false, err)
}

func classifyStatus(code int, status string) error {
	err := fmt.Errorf("bad status: %s", status)
	switch {
	case code == http.StatusNotFound || code == http.StatusGone || code == http.StatusForbidden:
		return errpkg.NewFetchError(errpkg.KindSourceUnavailable, false, err)
	case code >= 500 || code == http.StatusTooManyRequests:
		return errpkg.NewFetchError(errpkg.KindNetwork, true, err)
	}
	return errpkg.NewFetchError(errpkg.KindNetwork, false, err)
}

// moveFile renames tmp into place, falling back to a copy when the temp
// and library directories sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
