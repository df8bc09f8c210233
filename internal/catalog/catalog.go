// internal/catalog/catalog.go
package catalog

import "context"

// Song is the per-round snapshot handed to the game service. It is fetched
// fresh each round and only referenced until the round ends.
type Song struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	DeezerTrackID int64  `json:"deezer_track_id"`
}

// Playlist is a selectable game mode.
type Playlist struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog supplies song selection and metadata enrichment for rounds.
// PreviewURL and ArtistImageURL are best-effort: callers degrade to an empty
// URL or a null image when they fail.
type Catalog interface {
	ListPlaylists(ctx context.Context) ([]Playlist, error)
	PlaylistIDByName(ctx context.Context, name string) (int64, error)

	// RandomSongExcluding picks a random song from the playlist that is not in
	// exclude. It returns (nil, nil) when the playlist is exhausted.
	RandomSongExcluding(ctx context.Context, playlistID int64, exclude []int64) (*Song, error)

	PreviewURL(ctx context.Context, deezerTrackID int64) (string, error)
	ArtistImageURL(ctx context.Context, artist string) (string, error)
}

// Service combines the Postgres song source with the Deezer metadata client
// into one Catalog.
type Service struct {
	*Postgres
	*Deezer
}

// New assembles a Catalog from its two halves.
func New(pg *Postgres, dz *Deezer) *Service {
	return &Service{Postgres: pg, Deezer: dz}
}
