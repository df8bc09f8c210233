// internal/catalog/deezer.go
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// DefaultDeezerBaseURL is the public Deezer API root.
const DefaultDeezerBaseURL = "https://api.deezer.com"

// Deezer resolves preview URLs and artist images from the Deezer API.
// Both lookups are best-effort round enrichment; the round proceeds with an
// empty URL or a null image when they fail.
type Deezer struct {
	HTTP    *http.Client
	BaseURL string
}

// NewDeezer builds a client against the public API. The per-request deadline
// comes from the caller's context, so no client-level timeout is set.
func NewDeezer() *Deezer {
	return &Deezer{
		HTTP:    &http.Client{},
		BaseURL: DefaultDeezerBaseURL,
	}
}

// PreviewURL fetches the 30-second preview clip URL for a track. Returns an
// empty string if the track has no preview.
func (d *Deezer) PreviewURL(ctx context.Context, deezerTrackID int64) (string, error) {
	var body struct {
		Preview string `json:"preview"`
	}
	endpoint := fmt.Sprintf("%s/track/%d", d.BaseURL, deezerTrackID)
	if err := d.getJSON(ctx, endpoint, &body); err != nil {
		return "", fmt.Errorf("deezer track %d: %w", deezerTrackID, err)
	}
	return body.Preview, nil
}

// ArtistImageURL looks up an artist portrait by name. Returns an empty string
// when no artist matches.
func (d *Deezer) ArtistImageURL(ctx context.Context, artist string) (string, error) {
	var body struct {
		Data []struct {
			PictureBig string `json:"picture_big"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/search/artist?q=%s", d.BaseURL, url.QueryEscape(artist))
	if err := d.getJSON(ctx, endpoint, &body); err != nil {
		return "", fmt.Errorf("deezer artist search %q: %w", artist, err)
	}
	if len(body.Data) == 0 {
		return "", nil
	}
	return body.Data[0].PictureBig, nil
}

func (d *Deezer) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
