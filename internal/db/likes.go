package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LikeRepository handles like database operations.
type LikeRepository struct {
	pool *pgxpool.Pool
}

// Toggle removes the viewer's like on a song if it exists, otherwise adds
// one. It returns the new state. The songs.likes_count trigger keeps the
// count in step within the same transaction.
func (r *LikeRepository) Toggle(ctx context.Context, songID uuid.UUID, ipHash string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM songs WHERE id = $1)`, songID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking song: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}

	tag, err := tx.Exec(ctx, `DELETE FROM likes WHERE song_id = $1 AND ip_hash = $2`, songID, ipHash)
	if err != nil {
		return false, fmt.Errorf("deleting like: %w", err)
	}
	liked := tag.RowsAffected() == 0

	if liked {
		_, err = tx.Exec(ctx, `
			INSERT INTO likes (id, song_id, ip_hash)
			VALUES ($1, $2, $3)
			ON CONFLICT (song_id, ip_hash) DO NOTHING
		`, uuid.New(), songID, ipHash)
		if err != nil {
			return false, fmt.Errorf("inserting like: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return liked, nil
}

// DeleteForSong removes every like on a song.
func (r *LikeRepository) DeleteForSong(ctx context.Context, songID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM likes WHERE song_id = $1`, songID)
	if err != nil {
		return fmt.Errorf("deleting likes: %w", err)
	}
	return nil
}

// LikedSongIDs returns which of songIDs the viewer has liked.
func (r *LikeRepository) LikedSongIDs(ctx context.Context, songIDs []uuid.UUID, ipHash string) (map[uuid.UUID]bool, error) {
	liked := make(map[uuid.UUID]bool)
	if len(songIDs) == 0 {
		return liked, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT song_id
		FROM likes
		WHERE ip_hash = $1 AND song_id = ANY($2)
	`, ipHash, songIDs)
	if err != nil {
		return nil, fmt.Errorf("querying likes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning like: %w", err)
		}
		liked[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating likes: %w", err)
	}
	return liked, nil
}
