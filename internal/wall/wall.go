// Package wall holds the song wall's domain rules: who may pin, like and
// delete, and how the catalog, palette and store are combined to do it.
package wall

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/justestif/songwall/internal/palette"
	"github.com/justestif/songwall/internal/spotify"
)

const (
	// MaxListSongs caps how many songs a listing returns.
	MaxListSongs = 100

	// DailyPinLimit is how many songs one identity may pin per QuotaWindow.
	DailyPinLimit = 2

	// QuotaWindow is the trailing window counted for DailyPinLimit.
	QuotaWindow = 24 * time.Hour

	MaxNameLength   = 50
	MaxReasonLength = 80

	// MinSearchQuery is the shortest query sent to the catalog.
	MinSearchQuery = 2
)

// ErrNotFound is returned by stores when a song does not exist.
var ErrNotFound = errors.New("not found")

// Song is a pinned track as stored and as rendered for one viewer.
type Song struct {
	ID          uuid.UUID `json:"id"`
	SpotifyID   string    `json:"spotify_id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	AlbumArtURL string    `json:"album_art_url"`
	PreviewURL  *string   `json:"preview_url"`
	SpotifyURL  string    `json:"spotify_url"`
	Color       string    `json:"color"`
	BgTint      string    `json:"bg_tint"`
	Reason      string    `json:"reason"`
	PinnedBy    string    `json:"pinned_by"`
	IPHash      string    `json:"-"`
	LikesCount  int       `json:"likes_count"`
	CreatedAt   time.Time `json:"created_at"`

	// Viewer-relative, computed at read time.
	Liked   bool `json:"liked"`
	IsOwner bool `json:"is_owner"`
}

// Order selects how a listing is sorted. Both orders are descending.
type Order string

const (
	OrderLatest Order = "latest"
	OrderLoved  Order = "loved"
)

// ParseOrder maps a sort parameter to an Order. Anything but "loved" is latest.
func ParseOrder(s string) Order {
	if s == string(OrderLoved) {
		return OrderLoved
	}
	return OrderLatest
}

// CountFilter narrows CountSongs. Zero fields do not filter.
type CountFilter struct {
	IPHash string
	Since  time.Time // inclusive
}

// Store is the durable song and like storage.
type Store interface {
	ListSongs(ctx context.Context, order Order, limit int) ([]Song, error)
	CountSongs(ctx context.Context, filter CountFilter) (int, error)
	GetSong(ctx context.Context, id uuid.UUID) (*Song, error)
	// CreateSong inserts song and fills its ID and LikesCount. A zero
	// CreatedAt is filled from the store's clock; a set one is stored as is.
	CreateSong(ctx context.Context, song *Song) error
	DeleteSong(ctx context.Context, id uuid.UUID) error
	DeleteLikesForSong(ctx context.Context, id uuid.UUID) error
	LikedSongIDs(ctx context.Context, songIDs []uuid.UUID, ipHash string) (map[uuid.UUID]bool, error)
	// ToggleLike removes the viewer's like if present, otherwise adds it, and
	// reports the new state. ErrNotFound if the song does not exist.
	ToggleLike(ctx context.Context, songID uuid.UUID, ipHash string) (bool, error)
	LikesCount(ctx context.Context, songID uuid.UUID) (int, error)
	Close()
}

// Catalog looks tracks up in the music catalog.
type Catalog interface {
	Search(ctx context.Context, query string) ([]spotify.SearchResult, error)
	GetTrack(ctx context.Context, id string) (*spotify.Track, error)
}

// Palette picks colours for album art. It never fails.
type Palette interface {
	Extract(ctx context.Context, imageURL string) palette.Result
}

// Listing is one page of the wall.
type Listing struct {
	Songs      []Song `json:"songs"`
	TotalCount int    `json:"totalCount"`
}

// SongEntry is one song in a create request.
type SongEntry struct {
	SpotifyID string `json:"spotifyId"`
	Reason    string `json:"reason"`
	Color     string `json:"color,omitempty"`
	BgTint    string `json:"bgTint,omitempty"`
}

// CreateRequest is the body of a pin request.
type CreateRequest struct {
	Name  string      `json:"name"`
	Songs []SongEntry `json:"songs"`
}

// LikeResult is the state after a like toggle.
type LikeResult struct {
	Liked      bool `json:"liked"`
	LikesCount int  `json:"likesCount"`
}
