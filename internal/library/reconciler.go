package library

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seriesvault/seriesvault/internal/domain"
	"github.com/seriesvault/seriesvault/internal/metrics"
)

// Reconciler translates a finished download job into persistent library
// records. Reconcile is idempotent: re-running it for the same episodes
// updates rather than duplicates.
type Reconciler struct {
	store  Store
	logger *slog.Logger
}

func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Reconcile upserts the media record and one season/episode record per
// finished episode. A storage failure surfaces to the caller but never
// touches the already-downloaded files.
func (r *Reconciler) Reconcile(ctx context.Context, media domain.MediaMeta, episodes []domain.EpisodeMeta) error {
	mediaID, err := r.store.UpsertMedia(ctx, media)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	metrics.LibraryUpserts.Inc()

	seasonIDs := make(map[int]int64)
	for _, ep := range episodes {
		seasonID, ok := seasonIDs[ep.Season]
		if !ok {
			seasonID, err = r.store.UpsertSeason(ctx, mediaID, ep.Season)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			seasonIDs[ep.Season] = seasonID
		}

		if _, err := r.store.UpsertEpisode(ctx, seasonID, ep); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		metrics.LibraryUpserts.Inc()
	}

	r.logger.Info("library reconciled",
		"title", media.Title,
		"episodes", len(episodes),
	)
	return nil
}
