package domain

// ProgressSnapshot is an immutable point-in-time view of the running job.
// It is always replaced wholesale, never mutated field by field, so readers
// can never observe a half-written update.
type ProgressSnapshot struct {
	SeriesName     string `json:"series_name"`
	Message        string `json:"message"`
	Progress       int    `json:"progress"`
	CurrentEpisode int    `json:"current_episode"`
	TotalEpisodes  *int   `json:"total_episodes"`
	IsDownloading  bool   `json:"is_downloading"`
}

// StatusPayload is the semantic payload served to status pollers and pushed
// to event-stream subscribers.
type StatusPayload struct {
	IsDownloading bool              `json:"is_downloading"`
	Job           *ProgressSnapshot `json:"job"`
}
