package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/seriesvault/seriesvault/internal/domain"
	errpkg "github.com/seriesvault/seriesvault/internal/errors"
)

// PostgresStore persists library records in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to the given DSN, verifies the connection and
// ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS media (
	id           BIGSERIAL PRIMARY KEY,
	title        TEXT NOT NULL,
	type         TEXT NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	directory    TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (title, type)
);

CREATE TABLE IF NOT EXISTS seasons (
	id            BIGSERIAL PRIMARY KEY,
	media_id      BIGINT NOT NULL REFERENCES media(id) ON DELETE CASCADE,
	season_number INT NOT NULL,
	UNIQUE (media_id, season_number)
);

CREATE TABLE IF NOT EXISTS episodes (
	id             BIGSERIAL PRIMARY KEY,
	season_id      BIGINT NOT NULL REFERENCES seasons(id) ON DELETE CASCADE,
	episode_number INT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	filename       TEXT NOT NULL DEFAULT '',
	file_size      BIGINT NOT NULL DEFAULT 0,
	has_german_dub BOOLEAN NOT NULL DEFAULT FALSE,
	has_german_sub BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (season_id, episode_number)
);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertMedia(ctx context.Context, m domain.MediaMeta) (int64, error) {
	const query = `
INSERT INTO media (title, type, url, directory, last_updated)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (title, type) DO UPDATE
SET url = EXCLUDED.url, directory = EXCLUDED.directory, last_updated = now()
RETURNING id;`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, m.Title, m.Type, m.URL, m.Directory).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert media %q: %w", m.Title, err)
	}
	return id, nil
}

func (s *PostgresStore) UpsertSeason(ctx context.Context, mediaID int64, number int) (int64, error) {
	const query = `
INSERT INTO seasons (media_id, season_number)
VALUES ($1, $2)
ON CONFLICT (media_id, season_number) DO UPDATE
SET season_number = EXCLUDED.season_number
RETURNING id;`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, mediaID, number).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert season %d of media %d: %w", number, mediaID, err)
	}
	return id, nil
}

func (s *PostgresStore) UpsertEpisode(ctx context.Context, seasonID int64, ep domain.EpisodeMeta) (int64, error) {
	const query = `
INSERT INTO episodes (season_id, episode_number, title, filename, file_size, has_german_dub, has_german_sub)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (season_id, episode_number) DO UPDATE
SET title = EXCLUDED.title,
    filename = EXCLUDED.filename,
    file_size = EXCLUDED.file_size,
    has_german_dub = EXCLUDED.has_german_dub,
    has_german_sub = EXCLUDED.has_german_sub
RETURNING id;`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		seasonID, ep.Number, ep.Title, ep.Path, ep.Size, ep.HasGermanDub, ep.HasGermanSub,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert episode %d of season %d: %w", ep.Number, seasonID, err)
	}
	return id, nil
}

func (s *PostgresStore) GetMediaByTitle(ctx context.Context, title, mediaType string) (*domain.MediaMeta, error) {
	const query = `
SELECT id, title, type, url, directory, last_updated
FROM media WHERE title = $1 AND type = $2;`

	var m domain.MediaMeta
	err := s.db.QueryRowContext(ctx, query, title, mediaType).Scan(
		&m.ID, &m.Title, &m.Type, &m.URL, &m.Directory, &m.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errpkg.ErrMediaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media %q: %w", title, err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMedia(ctx context.Context) ([]domain.MediaMeta, error) {
	const query = `
SELECT id, title, type, url, directory, last_updated
FROM media ORDER BY title;`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var out []domain.MediaMeta
	for rows.Next() {
		var m domain.MediaMeta
		if err := rows.Scan(&m.ID, &m.Title, &m.Type, &m.URL, &m.Directory, &m.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EpisodeCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM episodes;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count episodes: %w", err)
	}
	return count, nil
}
