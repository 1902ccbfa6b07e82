package library

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seriesvault/seriesvault/internal/domain"
)

var episodePattern = regexp.MustCompile(`(?i)S(\d{1,2})E(\d{1,3})`)

var videoExtensions = map[string]bool{
	".mp4": true,
	".mkv": true,
	".avi": true,
	".m4v": true,
}

// FileInspector yields the language verdict for an existing file. The
// ffmpeg tag guard satisfies it.
type FileInspector interface {
	Inspect(ctx context.Context, path string) (domain.LanguageVerdict, error)
}

// ScanStats summarizes one library scan.
type ScanStats struct {
	Media    int `json:"media"`
	Episodes int `json:"episodes"`
	Skipped  int `json:"skipped"`
}

// Scanner imports already-downloaded files into the library. Layout:
// one directory per series under the base dir, episode files named with an
// SxxEyy marker anywhere below it.
type Scanner struct {
	store     Store
	inspector FileInspector
	workers   int
	logger    *slog.Logger
}

func NewScanner(store Store, inspector FileInspector, workers int, logger *slog.Logger) *Scanner {
	if workers <= 0 {
		workers = 1
	}
	return &Scanner{store: store, inspector: inspector, workers: workers, logger: logger}
}

type scannedFile struct {
	series  string
	dir     string
	season  int
	episode int
	title   string
	path    string
	size    int64
}

// Scan walks baseDir and upserts a record per recognized episode file.
// File inspection runs on a bounded worker group; database writes are
// serialized afterwards.
func (s *Scanner) Scan(ctx context.Context, baseDir string) (ScanStats, error) {
	var stats ScanStats

	files, skipped, err := collectFiles(baseDir)
	if err != nil {
		return stats, err
	}
	stats.Skipped = skipped

	verdicts := make([]domain.LanguageVerdict, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		g.Go(func() error {
			verdict, err := s.inspector.Inspect(gctx, f.path)
			if err != nil {
				// Unreadable files are recorded without language flags.
				s.logger.Warn("could not inspect file", "path", f.path, "error", err)
				verdict = domain.LanguageVerdict{}
			}
			mu.Lock()
			verdicts[i] = verdict
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	seenMedia := make(map[string]int64)
	seasonIDs := make(map[seasonKey]int64)
	for i, f := range files {
		mediaID, ok := seenMedia[f.series]
		if !ok {
			mediaID, err = s.store.UpsertMedia(ctx, domain.MediaMeta{
				Title:     f.series,
				Type:      "series",
				Directory: f.dir,
			})
			if err != nil {
				return stats, err
			}
			seenMedia[f.series] = mediaID
			stats.Media++
		}

		sk := seasonKey{mediaID: mediaID, number: f.season}
		seasonID, ok := seasonIDs[sk]
		if !ok {
			seasonID, err = s.store.UpsertSeason(ctx, mediaID, f.season)
			if err != nil {
				return stats, err
			}
			seasonIDs[sk] = seasonID
		}

		_, err = s.store.UpsertEpisode(ctx, seasonID, domain.EpisodeMeta{
			Season:       f.season,
			Number:       f.episode,
			Title:        f.title,
			Path:         f.path,
			Size:         f.size,
			HasGermanDub: verdicts[i].HasGermanDub,
			HasGermanSub: verdicts[i].HasGermanSub,
		})
		if err != nil {
			return stats, err
		}
		stats.Episodes++
	}

	s.logger.Info("library scan finished",
		"dir", baseDir,
		"media", stats.Media,
		"episodes", stats.Episodes,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

func collectFiles(baseDir string) ([]scannedFile, int, error) {
	var files []scannedFile
	skipped := 0

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, 0, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		seriesName := entry.Name()
		seriesDir := filepath.Join(baseDir, seriesName)

		walkErr := filepath.WalkDir(seriesDir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !videoExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			m := episodePattern.FindStringSubmatch(filepath.Base(path))
			if m == nil {
				skipped++
				return nil
			}
			season, _ := strconv.Atoi(m[1])
			episode, _ := strconv.Atoi(m[2])

			info, err := d.Info()
			if err != nil {
				return err
			}

			files = append(files, scannedFile{
				series:  seriesName,
				dir:     seriesDir,
				season:  season,
				episode: episode,
				title:   episodeTitle(filepath.Base(path)),
				path:    path,
				size:    info.Size(),
			})
			return nil
		})
		if walkErr != nil {
			return nil, 0, walkErr
		}
	}
	return files, skipped, nil
}

// episodeTitle strips the extension and the SxxEyy marker from a filename.
func episodeTitle(name string) string {
	title := strings.TrimSuffix(name, filepath.Ext(name))
	title = episodePattern.ReplaceAllString(title, "")
	title = strings.Trim(title, " -_.")
	return title
}
