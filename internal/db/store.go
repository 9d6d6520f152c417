package db

import (
	"context"

	"github.com/google/uuid"

	"github.com/justestif/songwall/internal/wall"
)

var _ wall.Store = (*DB)(nil)

// ListSongs returns up to limit songs, newest or most liked first.
func (db *DB) ListSongs(ctx context.Context, order wall.Order, limit int) ([]wall.Song, error) {
	return db.Songs().List(ctx, order, limit)
}

// CountSongs returns the number of songs matching filter.
func (db *DB) CountSongs(ctx context.Context, filter wall.CountFilter) (int, error) {
	return db.Songs().Count(ctx, filter)
}

// GetSong retrieves a song by ID.
func (db *DB) GetSong(ctx context.Context, id uuid.UUID) (*wall.Song, error) {
	return db.Songs().Get(ctx, id)
}

// CreateSong inserts a song.
func (db *DB) CreateSong(ctx context.Context, song *wall.Song) error {
	return db.Songs().Create(ctx, song)
}

// DeleteSong removes a song. Its likes must already be gone.
func (db *DB) DeleteSong(ctx context.Context, id uuid.UUID) error {
	return db.Songs().Delete(ctx, id)
}

// DeleteLikesForSong removes every like on a song.
func (db *DB) DeleteLikesForSong(ctx context.Context, id uuid.UUID) error {
	return db.Likes().DeleteForSong(ctx, id)
}

// LikedSongIDs returns which of songIDs the viewer has liked.
func (db *DB) LikedSongIDs(ctx context.Context, songIDs []uuid.UUID, ipHash string) (map[uuid.UUID]bool, error) {
	return db.Likes().LikedSongIDs(ctx, songIDs, ipHash)
}

// ToggleLike adds or removes the viewer's like and returns the new state.
func (db *DB) ToggleLike(ctx context.Context, songID uuid.UUID, ipHash string) (bool, error) {
	return db.Likes().Toggle(ctx, songID, ipHash)
}

// LikesCount returns the stored like count of a song.
func (db *DB) LikesCount(ctx context.Context, songID uuid.UUID) (int, error) {
	return db.Songs().LikesCount(ctx, songID)
}
