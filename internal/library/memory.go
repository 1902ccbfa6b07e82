package library

import (
	"context"
	"sync"

	"github.com/seriesvault/seriesvault/internal/domain"
	errpkg "github.com/seriesvault/seriesvault/internal/errors"
)

// MemoryStore keeps library records in process memory. It backs tests and
// deployments without a configured database.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	media    map[int64]domain.MediaMeta
	mediaKey map[mediaKey]int64
	seasons  map[seasonKey]int64
	episodes map[episodeKey]storedEpisode
}

type mediaKey struct {
	title     string
	mediaType string
}

type seasonKey struct {
	mediaID int64
	number  int
}

type episodeKey struct {
	seasonID int64
	number   int
}

type storedEpisode struct {
	id int64
	ep domain.EpisodeMeta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		media:    make(map[int64]domain.MediaMeta),
		mediaKey: make(map[mediaKey]int64),
		seasons:  make(map[seasonKey]int64),
		episodes: make(map[episodeKey]storedEpisode),
	}
}

func (s *MemoryStore) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) UpsertMedia(ctx context.Context, m domain.MediaMeta) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := mediaKey{title: m.Title, mediaType: m.Type}
	id, ok := s.mediaKey[key]
	if !ok {
		id = s.nextIDLocked()
		s.mediaKey[key] = id
	}
	m.ID = id
	s.media[id] = m
	return id, nil
}

func (s *MemoryStore) UpsertSeason(ctx context.Context, mediaID int64, number int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seasonKey{mediaID: mediaID, number: number}
	id, ok := s.seasons[key]
	if !ok {
		id = s.nextIDLocked()
		s.seasons[key] = id
	}
	return id, nil
}

func (s *MemoryStore) UpsertEpisode(ctx context.Context, seasonID int64, ep domain.EpisodeMeta) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := episodeKey{seasonID: seasonID, number: ep.Number}
	stored, ok := s.episodes[key]
	if !ok {
		stored = storedEpisode{id: s.nextIDLocked()}
	}
	stored.ep = ep
	s.episodes[key] = stored
	return stored.id, nil
}

func (s *MemoryStore) GetMediaByTitle(ctx context.Context, title, mediaType string) (*domain.MediaMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.mediaKey[mediaKey{title: title, mediaType: mediaType}]
	if !ok {
		return nil, errpkg.ErrMediaNotFound
	}
	m := s.media[id]
	return &m, nil
}

func (s *MemoryStore) ListMedia(ctx context.Context) ([]domain.MediaMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MediaMeta, 0, len(s.media))
	for _, m := range s.media {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) EpisodeCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes), nil
}
