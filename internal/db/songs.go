package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/songwall/internal/wall"
)

// SongRepository handles song database operations.
type SongRepository struct {
	pool *pgxpool.Pool
}

const songColumns = `id, spotify_id, title, artist, album_art_url, preview_url, spotify_url,
	color, bg_tint, reason, pinned_by, ip_hash, likes_count, created_at`

func scanSong(row pgx.Row, song *wall.Song) error {
	return row.Scan(
		&song.ID,
		&song.SpotifyID,
		&song.Title,
		&song.Artist,
		&song.AlbumArtURL,
		&song.PreviewURL,
		&song.SpotifyURL,
		&song.Color,
		&song.BgTint,
		&song.Reason,
		&song.PinnedBy,
		&song.IPHash,
		&song.LikesCount,
		&song.CreatedAt,
	)
}

// List returns up to limit songs, newest or most liked first.
func (r *SongRepository) List(ctx context.Context, order wall.Order, limit int) ([]wall.Song, error) {
	orderBy := "created_at DESC"
	if order == wall.OrderLoved {
		orderBy = "likes_count DESC, created_at DESC"
	}
	limit = clampLimit(limit)

	query := `SELECT ` + songColumns + ` FROM songs ORDER BY ` + orderBy + ` LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying songs: %w", err)
	}
	defer rows.Close()

	songs := []wall.Song{}
	for rows.Next() {
		var song wall.Song
		if err := scanSong(rows, &song); err != nil {
			return nil, fmt.Errorf("scanning song: %w", err)
		}
		songs = append(songs, song)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating songs: %w", err)
	}
	return songs, nil
}

// Count returns the number of songs matching filter.
func (r *SongRepository) Count(ctx context.Context, filter wall.CountFilter) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM songs
		WHERE ($1 = '' OR ip_hash = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
	`
	var since *time.Time
	if !filter.Since.IsZero() {
		since = &filter.Since
	}

	var count int
	if err := r.pool.QueryRow(ctx, query, filter.IPHash, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting songs: %w", err)
	}
	return count, nil
}

// Get retrieves a song by ID.
func (r *SongRepository) Get(ctx context.Context, id uuid.UUID) (*wall.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE id = $1`

	var song wall.Song
	err := scanSong(r.pool.QueryRow(ctx, query, id), &song)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying song: %w", err)
	}
	return &song, nil
}

// Create inserts a song. ID is generated when unset and CreatedAt defaults
// to the database clock when zero; both are read back from the row.
func (r *SongRepository) Create(ctx context.Context, song *wall.Song) error {
	if song.ID == uuid.Nil {
		song.ID = uuid.New()
	}

	query := `
		INSERT INTO songs (id, spotify_id, title, artist, album_art_url, preview_url, spotify_url,
			color, bg_tint, reason, pinned_by, ip_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13::timestamptz, now()))
		RETURNING likes_count, created_at
	`
	var createdAt *time.Time
	if !song.CreatedAt.IsZero() {
		createdAt = &song.CreatedAt
	}

	err := r.pool.QueryRow(ctx, query,
		song.ID,
		song.SpotifyID,
		song.Title,
		song.Artist,
		song.AlbumArtURL,
		song.PreviewURL,
		song.SpotifyURL,
		song.Color,
		song.BgTint,
		song.Reason,
		song.PinnedBy,
		song.IPHash,
		createdAt,
	).Scan(&song.LikesCount, &song.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting song: %w", err)
	}
	return nil
}

// Delete removes a song. Its likes must already be gone.
func (r *SongRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM songs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting song: %w", err)
	}
	return nil
}

// LikesCount returns the stored like count of a song.
func (r *SongRepository) LikesCount(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT likes_count FROM songs WHERE id = $1`, id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying likes count: %w", err)
	}
	return count, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > wall.MaxListSongs {
		return wall.MaxListSongs
	}
	return limit
}
