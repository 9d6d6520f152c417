package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/zmb3/spotify/v2"

	"github.com/justestif/songwall/internal/auth"
)

// fakeCatalog is an httptest server playing both the accounts token endpoint
// and the Web API.
type fakeCatalog struct {
	server     *httptest.Server
	exchanges  atomic.Int32
	searches   atomic.Int32
	failSearch atomic.Int32 // number of upcoming searches to fail with 401
	failToken  atomic.Bool  // reject every credential exchange
	track      map[string]any

	mu        sync.Mutex
	tokens    []string // Authorization headers seen by the API
	lastQuery string
	lastLimit string
}

func (f *fakeCatalog) seen() (tokens []string, query, limit string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...), f.lastQuery, f.lastLimit
}

func newFakeCatalog(t *testing.T) *fakeCatalog {
	t.Helper()
	f := &fakeCatalog{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if f.failToken.Load() {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_client","error_description":"Invalid client"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		f.mu.Lock()
		f.tokens = append(f.tokens, r.Header.Get("Authorization"))
		f.lastQuery = r.URL.Query().Get("q")
		f.lastLimit = r.URL.Query().Get("limit")
		f.mu.Unlock()

		if f.failSearch.Load() > 0 {
			f.failSearch.Add(-1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"status":401,"message":"The access token expired"}}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"tracks": map[string]any{
				"items": []any{
					trackJSON("4uLU6hMCjMI75M1A2tKUQC", "Never Gonna Give You Up", []string{"Rick Astley"}, "Whenever You Need Somebody", true),
					trackJSON("7GhIk7Il098yCjg4BQjzvb", "Collab", []string{"Artist A", "Artist B"}, "Split", false),
				},
			},
		})
	})
	mux.HandleFunc("/v1/tracks/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/tracks/")
		w.Header().Set("Content-Type", "application/json")
		if f.track == nil || f.track["id"] != id {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"status":404,"message":"Non existing id"}}`)
			return
		}
		json.NewEncoder(w).Encode(f.track)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCatalog) client() *Client {
	tokens := auth.NewTokenCache(auth.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     f.server.URL + "/api/token",
	})
	return New(Config{
		Tokens:  tokens,
		BaseURL: f.server.URL + "/v1/",
		Logger:  log.New(io.Discard),
	})
}

func trackJSON(id, name string, artists []string, album string, withArt bool) map[string]any {
	as := make([]map[string]any, len(artists))
	for i, a := range artists {
		as[i] = map[string]any{"name": a}
	}
	images := []map[string]any{}
	if withArt {
		images = append(images,
			map[string]any{"url": "https://i.scdn.co/image/640x640/abc", "width": 640, "height": 640},
			map[string]any{"url": "https://i.scdn.co/image/64x64/abc", "width": 64, "height": 64},
		)
	}
	return map[string]any{
		"id":            id,
		"name":          name,
		"artists":       as,
		"album":         map[string]any{"name": album, "images": images},
		"external_urls": map[string]string{"spotify": "https://open.spotify.com/track/" + id},
	}
}

func TestSearch(t *testing.T) {
	f := newFakeCatalog(t)
	c := f.client()

	results, err := c.Search(context.Background(), "never gonna")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	_, query, limit := f.seen()
	if query != "never gonna" {
		t.Errorf("query = %q, want %q", query, "never gonna")
	}
	if limit != "5" {
		t.Errorf("limit = %q, want 5", limit)
	}

	want := []SearchResult{
		{
			SpotifyID:   "4uLU6hMCjMI75M1A2tKUQC",
			Title:       "Never Gonna Give You Up",
			Artist:      "Rick Astley",
			Album:       "Whenever You Need Somebody",
			AlbumArtURL: "https://i.scdn.co/image/640x640/abc",
		},
		{
			SpotifyID:   "7GhIk7Il098yCjg4BQjzvb",
			Title:       "Collab",
			Artist:      "Artist A, Artist B",
			Album:       "Split",
			AlbumArtURL: "",
		},
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, results[i], want[i])
		}
	}
}

func TestSearch_RetriesOnceWithFreshToken(t *testing.T) {
	f := newFakeCatalog(t)
	c := f.client()

	// Warm the token cache.
	if _, err := c.Search(context.Background(), "warm"); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	f.failSearch.Store(1)
	if _, err := c.Search(context.Background(), "retry"); err != nil {
		t.Fatalf("Search() after one failure error = %v", err)
	}

	if got := f.exchanges.Load(); got != 2 {
		t.Errorf("exchanges = %d, want 2 (initial + refresh)", got)
	}
	// warm, failed attempt, retry
	tokens, _, _ := f.seen()
	if len(tokens) != 3 || tokens[1] == tokens[2] {
		t.Errorf("retry did not use a fresh token: %v", tokens)
	}
}

func TestSearch_SecondFailureSurfaces(t *testing.T) {
	f := newFakeCatalog(t)
	c := f.client()

	f.failSearch.Store(5)
	_, err := c.Search(context.Background(), "broken")
	if !errors.Is(err, ErrSearchFailed) {
		t.Fatalf("Search() error = %v, want ErrSearchFailed", err)
	}
	if got := f.searches.Load(); got != 2 {
		t.Errorf("search attempts = %d, want 2", got)
	}
	if got := PublicMessage(err); got != "Spotify search failed" {
		t.Errorf("PublicMessage() = %q", got)
	}
}

func TestSearch_FailedExchangeNotRetried(t *testing.T) {
	f := newFakeCatalog(t)
	f.failToken.Store(true)
	c := f.client()

	_, err := c.Search(context.Background(), "hello")
	if !errors.Is(err, ErrSearchFailed) || !errors.Is(err, auth.ErrAuthFailed) {
		t.Fatalf("Search() error = %v, want ErrSearchFailed wrapping ErrAuthFailed", err)
	}
	if got := PublicMessage(err); got != "failed to authenticate with Spotify" {
		t.Errorf("PublicMessage() = %q", got)
	}
	if got := f.exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1", got)
	}
	if got := f.searches.Load(); got != 0 {
		t.Errorf("searches = %d, want 0", got)
	}
}

func TestSearch_CancelledContextNotRetried(t *testing.T) {
	f := newFakeCatalog(t)
	c := f.client()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Search(ctx, "hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Search() error = %v, want context.Canceled", err)
	}
	if got := f.exchanges.Load(); got != 0 {
		t.Errorf("exchanges = %d, want 0", got)
	}
	if got := f.searches.Load(); got != 0 {
		t.Errorf("searches = %d, want 0", got)
	}
}

func TestSearch_MissingCredentials(t *testing.T) {
	f := newFakeCatalog(t)
	c := New(Config{
		Tokens:  auth.NewTokenCache(auth.Config{}),
		BaseURL: f.server.URL + "/v1/",
		Logger:  log.New(io.Discard),
	})

	_, err := c.Search(context.Background(), "anything")
	if !errors.Is(err, auth.ErrMissingCredentials) {
		t.Fatalf("Search() error = %v, want ErrMissingCredentials", err)
	}
	if got := PublicMessage(err); got != "failed to authenticate with Spotify" {
		t.Errorf("PublicMessage() = %q", got)
	}
	if got := f.searches.Load(); got != 0 {
		t.Errorf("API contacted %d times without credentials", got)
	}
}

func TestGetTrack(t *testing.T) {
	f := newFakeCatalog(t)
	f.track = trackJSON("4uLU6hMCjMI75M1A2tKUQC", "Never Gonna Give You Up", []string{"Rick Astley"}, "Whenever You Need Somebody", true)
	f.track["preview_url"] = "https://p.scdn.co/mp3-preview/abc"
	c := f.client()

	track, err := c.GetTrack(context.Background(), "4uLU6hMCjMI75M1A2tKUQC")
	if err != nil {
		t.Fatalf("GetTrack() error = %v", err)
	}

	if track.ID != "4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("ID = %q", track.ID)
	}
	if track.Artist != "Rick Astley" {
		t.Errorf("Artist = %q", track.Artist)
	}
	if track.AlbumArtURL != "https://i.scdn.co/image/640x640/abc" {
		t.Errorf("AlbumArtURL = %q", track.AlbumArtURL)
	}
	if track.PreviewURL == nil || *track.PreviewURL != "https://p.scdn.co/mp3-preview/abc" {
		t.Errorf("PreviewURL = %v", track.PreviewURL)
	}
	if track.SpotifyURL != "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("SpotifyURL = %q", track.SpotifyURL)
	}
}

func TestGetTrack_NoRetry(t *testing.T) {
	f := newFakeCatalog(t)
	c := f.client()

	_, err := c.GetTrack(context.Background(), "0000000000000000000000")
	if !errors.Is(err, ErrTrackFetchFailed) {
		t.Fatalf("GetTrack() error = %v, want ErrTrackFetchFailed", err)
	}
	if got := f.exchanges.Load(); got != 1 {
		t.Errorf("exchanges = %d, want 1 (no retry)", got)
	}
}

func TestConvertTrack(t *testing.T) {
	tests := []struct {
		name        string
		full        spotify.FullTrack
		wantArtist  string
		wantArt     string
		wantPreview bool
	}{
		{
			name: "no artists no images no preview",
			full: spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{ID: "x", Name: "Silence"},
			},
			wantArtist: "",
			wantArt:    "",
		},
		{
			name: "three artists",
			full: spotify.FullTrack{
				SimpleTrack: spotify.SimpleTrack{
					ID:   "y",
					Name: "Trio",
					Artists: []spotify.SimpleArtist{
						{Name: "A"}, {Name: "B"}, {Name: "C"},
					},
					PreviewURL: "https://p.scdn.co/y",
				},
			},
			wantArtist:  "A, B, C",
			wantPreview: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertTrack(&tt.full)
			if got.Artist != tt.wantArtist {
				t.Errorf("Artist = %q, want %q", got.Artist, tt.wantArtist)
			}
			if got.AlbumArtURL != tt.wantArt {
				t.Errorf("AlbumArtURL = %q, want %q", got.AlbumArtURL, tt.wantArt)
			}
			if (got.PreviewURL != nil) != tt.wantPreview {
				t.Errorf("PreviewURL = %v, want present=%v", got.PreviewURL, tt.wantPreview)
			}
		})
	}
}
