package library

import (
	"context"

	"github.com/seriesvault/seriesvault/internal/domain"
)

// Store is the persistence contract for library records. Upserts are keyed
// on (title, type), (media, season number) and (season, episode number)
// respectively, so re-running a job for the same episode updates instead of
// duplicating.
type Store interface {
	UpsertMedia(ctx context.Context, m domain.MediaMeta) (int64, error)
	UpsertSeason(ctx context.Context, mediaID int64, number int) (int64, error)
	UpsertEpisode(ctx context.Context, seasonID int64, ep domain.EpisodeMeta) (int64, error)

	GetMediaByTitle(ctx context.Context, title, mediaType string) (*domain.MediaMeta, error)
	ListMedia(ctx context.Context) ([]domain.MediaMeta, error)
	EpisodeCount(ctx context.Context) (int, error)
}
