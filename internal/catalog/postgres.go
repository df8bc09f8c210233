// internal/catalog/postgres.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads playlists and songs from the catalog database. The tables
// (playlists, songs, playlist_songs) are populated by the ingestion pipeline,
// which lives outside this service.
type Postgres struct {
	Pool *pgxpool.Pool
}

// Connect opens a pgx pool using the standard environment variables
// (POSTGRES_USER, POSTGRES_PASSWORD, PG_HOST, PG_PORT, PG_DATABASE) and
// verifies connectivity with a short ping.
func Connect(ctx context.Context) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

// ListPlaylists returns every playlist, oldest first.
func (p *Postgres) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	q := `
	SELECT id, name, COALESCE(description, '')
	FROM playlists
	ORDER BY id
	`
	rows, err := p.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []Playlist
	for rows.Next() {
		var pl Playlist
		if err := rows.Scan(&pl.ID, &pl.Name, &pl.Description); err != nil {
			return nil, fmt.Errorf("scan playlist: %w", err)
		}
		playlists = append(playlists, pl)
	}
	return playlists, rows.Err()
}

// PlaylistIDByName resolves a playlist name (the "mode" players select) to
// its id.
func (p *Postgres) PlaylistIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	q := `SELECT id FROM playlists WHERE name = $1`
	if err := p.Pool.QueryRow(ctx, q, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("playlist %q: %w", name, err)
	}
	return id, nil
}

// RandomSongExcluding picks a random song from the playlist whose id is not
// in exclude. Returns (nil, nil) once every song has been excluded.
func (p *Postgres) RandomSongExcluding(ctx context.Context, playlistID int64, exclude []int64) (*Song, error) {
	if exclude == nil {
		exclude = []int64{}
	}
	q := `
	SELECT s.id, s.title, s.artist, s.deezer_track_id
	FROM playlist_songs ps
	JOIN songs s ON s.id = ps.song_id
	WHERE ps.playlist_id = $1
	  AND NOT (s.id = ANY($2))
	ORDER BY random()
	LIMIT 1
	`
	var s Song
	err := p.Pool.QueryRow(ctx, q, playlistID, exclude).Scan(&s.ID, &s.Title, &s.Artist, &s.DeezerTrackID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("random song from playlist %d: %w", playlistID, err)
	}
	return &s, nil
}
