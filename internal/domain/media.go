package domain

import "time"

// EpisodeRef identifies one episode of a resolved listing together with the
// media URLs it can be fetched from, in mirror preference order.
type EpisodeRef struct {
	Season    int      `json:"season"`
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	MediaURLs []string `json:"media_urls"`
}

// SeriesListing is the ordered result of resolving a download target.
type SeriesListing struct {
	Title    string       `json:"title"`
	Type     string       `json:"type"`
	Episodes []EpisodeRef `json:"episodes"`
}

// MediaMeta describes the series-level record written to the library.
type MediaMeta struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	URL         string    `json:"url"`
	Directory   string    `json:"directory"`
	LastUpdated time.Time `json:"last_updated"`
}

// EpisodeMeta describes a single finished episode file.
type EpisodeMeta struct {
	Season       int    `json:"season"`
	Number       int    `json:"number"`
	Title        string `json:"title"`
	Path         string `json:"path"`
	Size         int64  `json:"file_size"`
	HasGermanDub bool   `json:"has_german_dub"`
	HasGermanSub bool   `json:"has_german_sub"`
}

// LanguageVerdict is the language guard's decision for a downloaded file.
// AudioIndex is the stream index to keep when NeedsRemux is set.
type LanguageVerdict struct {
	HasGermanDub bool
	HasGermanSub bool
	AudioIndex   int
	NeedsRemux   bool
}

// FetchResult is the outcome of fetching a single episode.
type FetchResult struct {
	Path         string
	Size         int64
	HasGermanDub bool
	HasGermanSub bool
}
