package fetch

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/seriesvault/seriesvault/internal/domain"
)

// DirectResolver treats the target as a direct media URL and produces a
// single-episode listing. Site-specific listing resolvers plug in behind
// the Resolver interface in its place.
type DirectResolver struct{}

func (DirectResolver) Resolve(_ context.Context, target string) (domain.SeriesListing, error) {
	u, err := url.Parse(target)
	if err != nil {
		return domain.SeriesListing{}, fmt.Errorf("parse target: %w", err)
	}

	title := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if title == "" || title == "." || title == "/" {
		title = u.Hostname()
	}

	return domain.SeriesListing{
		Title: title,
		Type:  "movie",
		Episodes: []domain.EpisodeRef{
			{
				Season:    1,
				Number:    1,
				Title:     title,
				MediaURLs: []string{target},
			},
		},
	}, nil
}
