package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_jobs_started_total",
		Help: "Total number of download jobs started",
	})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_jobs_completed_total",
		Help: "Total number of download jobs completed",
	})

	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_jobs_failed_total",
		Help: "Total number of download jobs failed",
	})

	JobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_jobs_cancelled_total",
		Help: "Total number of download jobs cancelled",
	})

	EpisodesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_episodes_fetched_total",
		Help: "Total number of episodes fetched successfully",
	})

	EpisodesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_episodes_failed_total",
		Help: "Total number of episode fetches that failed",
	})

	EpisodesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_episodes_skipped_total",
		Help: "Total number of episodes skipped because the file already existed",
	})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seriesvault_episode_fetch_duration_seconds",
		Help:    "Episode fetch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	FetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_fetch_bytes_total",
		Help: "Total bytes downloaded",
	})

	LibraryUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seriesvault_library_upserts_total",
		Help: "Total number of library record upserts",
	})
)
