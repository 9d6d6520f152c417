// Package sqlite is an embedded song store for single-node deployments and
// tests. It mirrors the PostgreSQL schema, including the like-count triggers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/justestif/songwall/internal/wall"
)

// Store is a wall.Store backed by a single SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for created_at values.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens the database file at path with foreign keys enforced.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	dbh, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	dbh.SetMaxOpenConns(1)
	dbh.SetMaxIdleConns(1)
	dbh.SetConnMaxLifetime(0)

	s := &Store{db: dbh, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database. It is safe to call on a nil Store.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

var _ wall.Store = (*Store)(nil)

const songColumns = `id, spotify_id, title, artist, album_art_url, preview_url, spotify_url,
	color, bg_tint, reason, pinned_by, ip_hash, likes_count, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSong(row scanner, song *wall.Song) error {
	var createdAt int64
	err := row.Scan(
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
		&createdAt,
	)
	if err != nil {
		return err
	}
	song.CreatedAt = time.Unix(0, createdAt).UTC()
	return nil
}

// ListSongs returns up to limit songs, newest or most liked first.
func (s *Store) ListSongs(ctx context.Context, order wall.Order, limit int) ([]wall.Song, error) {
	orderBy := "created_at DESC, rowid DESC"
	if order == wall.OrderLoved {
		orderBy = "likes_count DESC, created_at DESC, rowid DESC"
	}
	if limit <= 0 || limit > wall.MaxListSongs {
		limit = wall.MaxListSongs
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+songColumns+` FROM songs ORDER BY `+orderBy+` LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	defer rows.Close()

	out := []wall.Song{}
	for rows.Next() {
		var song wall.Song
		if err := scanSong(rows, &song); err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		out = append(out, song)
	}
	return out, rows.Err()
}

// CountSongs returns the number of songs matching filter.
func (s *Store) CountSongs(ctx context.Context, filter wall.CountFilter) (int, error) {
	query := `SELECT COUNT(*) FROM songs WHERE 1 = 1`
	var args []any
	if filter.IPHash != "" {
		query += ` AND ip_hash = ?`
		args = append(args, filter.IPHash)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UnixNano())
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count songs: %w", err)
	}
	return n, nil
}

// GetSong retrieves a song by ID.
func (s *Store) GetSong(ctx context.Context, id uuid.UUID) (*wall.Song, error) {
	var song wall.Song
	err := scanSong(s.db.QueryRowContext(ctx, `SELECT `+songColumns+` FROM songs WHERE id = ?`, id.String()), &song)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wall.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select song: %w", err)
	}
	return &song, nil
}

// CreateSong inserts a song, generating its ID and, when zero, its CreatedAt.
func (s *Store) CreateSong(ctx context.Context, song *wall.Song) error {
	if song.ID == uuid.Nil {
		song.ID = uuid.New()
	}
	createdAt := song.CreatedAt.UTC()
	if song.CreatedAt.IsZero() {
		createdAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO songs (id, spotify_id, title, artist, album_art_url, preview_url, spotify_url,
			color, bg_tint, reason, pinned_by, ip_hash, likes_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		song.ID.String(),
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
		createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert song: %w", err)
	}

	song.LikesCount = 0
	song.CreatedAt = createdAt
	return nil
}

// DeleteSong removes a song. Its likes must already be gone.
func (s *Store) DeleteSong(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM songs WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete song: %w", err)
	}
	return nil
}

// DeleteLikesForSong removes every like on a song.
func (s *Store) DeleteLikesForSong(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM likes WHERE song_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete likes: %w", err)
	}
	return nil
}

// LikedSongIDs returns which of songIDs the viewer has liked.
func (s *Store) LikedSongIDs(ctx context.Context, songIDs []uuid.UUID, ipHash string) (map[uuid.UUID]bool, error) {
	liked := make(map[uuid.UUID]bool)
	if len(songIDs) == 0 {
		return liked, nil
	}

	args := make([]any, 0, len(songIDs)+1)
	args = append(args, ipHash)
	for _, id := range songIDs {
		args = append(args, id.String())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(songIDs)), ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT song_id FROM likes
		WHERE ip_hash = ? AND song_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list likes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan like: %w", err)
		}
		liked[id] = true
	}
	return liked, rows.Err()
}

// ToggleLike adds or removes the viewer's like in one transaction and
// returns the new state.
func (s *Store) ToggleLike(ctx context.Context, songID uuid.UUID, ipHash string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM songs WHERE id = ?)`, songID.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("check song: %w", err)
	}
	if !exists {
		return false, wall.ErrNotFound
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM likes WHERE song_id = ? AND ip_hash = ?`, songID.String(), ipHash)
	if err != nil {
		return false, fmt.Errorf("delete like: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete like: %w", err)
	}
	liked := removed == 0

	if liked {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO likes (id, song_id, ip_hash, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (song_id, ip_hash) DO NOTHING
		`, uuid.NewString(), songID.String(), ipHash, s.now().UnixNano())
		if err != nil {
			return false, fmt.Errorf("insert like: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return liked, nil
}

// LikesCount returns the stored like count of a song.
func (s *Store) LikesCount(ctx context.Context, songID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT likes_count FROM songs WHERE id = ?`, songID.String()).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, wall.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select likes count: %w", err)
	}
	return n, nil
}
