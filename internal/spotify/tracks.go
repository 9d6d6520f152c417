package spotify

import (
	"context"
	"fmt"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// GetTrack fetches full detail for one track id.
//
// Unlike Search, a failure here is not retried with a fresh token.
// TODO: retry once on an auth error like Search does, once the catalog
// error body is distinguishable from a genuine not-found.
func (c *Client) GetTrack(ctx context.Context, id string) (*Track, error) {
	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrackFetchFailed, err)
	}

	full, err := c.api.GetTrack(ctx, spotify.ID(id))
	if err != nil {
		c.logger.Error("track lookup failed", "id", id, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrTrackFetchFailed, err)
	}

	track := convertTrack(full)
	return &track, nil
}

// convertTrack converts a Spotify FullTrack to Track.
func convertTrack(full *spotify.FullTrack) Track {
	var preview *string
	if full.PreviewURL != "" {
		p := full.PreviewURL
		preview = &p
	}

	return Track{
		ID:          full.ID.String(),
		Title:       full.Name,
		Artist:      joinArtists(full.Artists),
		Album:       full.Album.Name,
		AlbumArtURL: firstImage(full.Album.Images),
		PreviewURL:  preview,
		SpotifyURL:  full.ExternalURLs["spotify"],
	}
}

// convertSummary converts a Spotify FullTrack to a SearchResult.
func convertSummary(full spotify.FullTrack) SearchResult {
	return SearchResult{
		SpotifyID:   full.ID.String(),
		Title:       full.Name,
		Artist:      joinArtists(full.Artists),
		Album:       full.Album.Name,
		AlbumArtURL: firstImage(full.Album.Images),
	}
}

// joinArtists joins artist names with ", ".
func joinArtists(artists []spotify.SimpleArtist) string {
	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

func firstImage(images []spotify.Image) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}
