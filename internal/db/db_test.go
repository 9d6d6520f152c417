package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/justestif/songwall/internal/wall"
)

// openTestDB connects to SONGWALL_TEST_DATABASE_URL, resets the schema and
// applies migrations. Tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("SONGWALL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SONGWALL_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := New(ctx, url)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(database.Close)

	_, err = database.Pool().Exec(ctx, `
		DROP TABLE IF EXISTS likes;
		DROP TABLE IF EXISTS songs;
		DROP FUNCTION IF EXISTS sync_likes_count();
		DROP TABLE IF EXISTS goose_db_version;
	`)
	if err != nil {
		t.Fatalf("resetting schema: %v", err)
	}

	if _, err := database.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return database
}

func newSong(ipHash string) *wall.Song {
	return &wall.Song{
		SpotifyID: strings.Repeat("a", 22),
		Title:     "Title",
		Artist:    "Artist",
		Color:     "#e02020",
		BgTint:    "#e96363",
		Reason:    "because",
		PinnedBy:  "Maya",
		IPHash:    ipHash,
	}
}

func TestSongLifecycle(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	song := newSong("owner")
	if err := database.CreateSong(ctx, song); err != nil {
		t.Fatalf("CreateSong() error = %v", err)
	}
	if song.ID == uuid.Nil || song.CreatedAt.IsZero() || song.LikesCount != 0 {
		t.Fatalf("CreateSong() did not fill generated fields: %+v", song)
	}

	got, err := database.GetSong(ctx, song.ID)
	if err != nil {
		t.Fatalf("GetSong() error = %v", err)
	}
	if got.IPHash != "owner" || got.PreviewURL != nil {
		t.Errorf("GetSong() = %+v", got)
	}

	if _, err := database.GetSong(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSong(unknown) error = %v, want ErrNotFound", err)
	}

	n, err := database.CountSongs(ctx, wall.CountFilter{IPHash: "owner", Since: time.Now().Add(-time.Hour)})
	if err != nil || n != 1 {
		t.Errorf("CountSongs(owner) = %d, %v; want 1", n, err)
	}
	n, err = database.CountSongs(ctx, wall.CountFilter{IPHash: "someone"})
	if err != nil || n != 0 {
		t.Errorf("CountSongs(someone) = %d, %v; want 0", n, err)
	}
}

func TestCreateSongKeepsCallerTimestamp(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	// Far enough from the database clock that any skew would show.
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	song := newSong("owner")
	song.CreatedAt = stamp
	if err := database.CreateSong(ctx, song); err != nil {
		t.Fatalf("CreateSong() error = %v", err)
	}
	if !song.CreatedAt.Equal(stamp) {
		t.Errorf("CreateSong() CreatedAt = %v, want %v", song.CreatedAt, stamp)
	}

	n, err := database.CountSongs(ctx, wall.CountFilter{IPHash: "owner", Since: stamp.Add(time.Second)})
	if err != nil || n != 0 {
		t.Errorf("CountSongs(after stamp) = %d, %v; want 0", n, err)
	}
}

func TestToggleLikeMaintainsCount(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	song := newSong("owner")
	if err := database.CreateSong(ctx, song); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		viewer    string
		wantLiked bool
		wantCount int
	}{
		{"a", true, 1},
		{"b", true, 2},
		{"a", false, 1},
		{"a", true, 2},
		{"b", false, 1},
	}
	for i, step := range steps {
		liked, err := database.ToggleLike(ctx, song.ID, step.viewer)
		if err != nil {
			t.Fatalf("step %d: ToggleLike() error = %v", i, err)
		}
		count, err := database.LikesCount(ctx, song.ID)
		if err != nil {
			t.Fatalf("step %d: LikesCount() error = %v", i, err)
		}
		if liked != step.wantLiked || count != step.wantCount {
			t.Errorf("step %d: liked=%v count=%d, want %v %d", i, liked, count, step.wantLiked, step.wantCount)
		}
	}

	if _, err := database.ToggleLike(ctx, uuid.New(), "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ToggleLike(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteRequiresLikesFirst(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	song := newSong("owner")
	if err := database.CreateSong(ctx, song); err != nil {
		t.Fatal(err)
	}
	if _, err := database.ToggleLike(ctx, song.ID, "fan"); err != nil {
		t.Fatal(err)
	}

	if err := database.DeleteSong(ctx, song.ID); err == nil {
		t.Fatal("DeleteSong() with likes succeeded, want foreign key error")
	}

	if err := database.DeleteLikesForSong(ctx, song.ID); err != nil {
		t.Fatalf("DeleteLikesForSong() error = %v", err)
	}
	if err := database.DeleteSong(ctx, song.ID); err != nil {
		t.Fatalf("DeleteSong() error = %v", err)
	}
	if _, err := database.GetSong(ctx, song.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("song still present: %v", err)
	}
}

func TestListSongsOrderAndLikes(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	older := newSong("a")
	newer := newSong("b")
	for _, s := range []*wall.Song{older, newer} {
		if err := database.CreateSong(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := database.ToggleLike(ctx, older.ID, "viewer"); err != nil {
		t.Fatal(err)
	}

	latest, err := database.ListSongs(ctx, wall.OrderLatest, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].ID != newer.ID {
		t.Errorf("latest order wrong: %v", ids(latest))
	}

	loved, err := database.ListSongs(ctx, wall.OrderLoved, 10)
	if err != nil {
		t.Fatal(err)
	}
	if loved[0].ID != older.ID {
		t.Errorf("loved order wrong: %v", ids(loved))
	}

	liked, err := database.LikedSongIDs(ctx, []uuid.UUID{older.ID, newer.ID}, "viewer")
	if err != nil {
		t.Fatal(err)
	}
	if !liked[older.ID] || liked[newer.ID] {
		t.Errorf("LikedSongIDs() = %v", liked)
	}
}

func TestSchemaRejectsInvalidRows(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*wall.Song)
	}{
		{"bad spotify id", func(s *wall.Song) { s.SpotifyID = "ab_123" }},
		{"empty reason", func(s *wall.Song) { s.Reason = "" }},
		{"reason too long", func(s *wall.Song) { s.Reason = strings.Repeat("r", 81) }},
		{"name too long", func(s *wall.Song) { s.PinnedBy = strings.Repeat("n", 51) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSong("owner")
			tt.mutate(s)
			if err := database.CreateSong(ctx, s); err == nil {
				t.Error("CreateSong() succeeded, want check constraint error")
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{0: 100, -1: 100, 1: 1, 100: 100, 101: 100}
	for in, want := range tests {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func ids(songs []wall.Song) []uuid.UUID {
	out := make([]uuid.UUID, len(songs))
	for i, s := range songs {
		out[i] = s.ID
	}
	return out
}
