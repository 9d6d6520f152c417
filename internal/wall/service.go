package wall

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/justestif/songwall/internal/ratelimit"
	"github.com/justestif/songwall/internal/spotify"
)

var (
	spotifyIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{22}$`)
	hexColorPattern  = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// Messages shown to visitors.
const (
	msgQuotaUsed     = "You've used your 2 pins for today. Come back tomorrow!"
	msgInvalid       = "Invalid request"
	msgInvalidSongID = "Invalid song ID"
	msgInvalidReason = "Reason must be 1-80 characters"
	msgInvalidColor  = "Invalid color"
	msgSaveFailed    = "Failed to save song"
	msgLoadFailed    = "Failed to load songs"
	msgNotFound      = "Song not found"
	msgNotOwner      = "Not your song"
	msgDeleteFailed  = "Failed to delete song"
	msgLikeFailed    = "Failed to update like"
	msgSlowDown      = "Slow down"
)

// Service applies the wall's rules on top of a Store.
type Service struct {
	store   Store
	catalog Catalog
	palette Palette
	limiter ratelimit.Limiter
	logger  *log.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for the daily quota.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger for upstream failures.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a wall service.
func New(store Store, catalog Catalog, palette Palette, limiter ratelimit.Limiter, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		palette: palette,
		limiter: limiter,
		logger:  log.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "wall")
	return s
}

// ListSongs returns up to MaxListSongs songs annotated for the viewer, plus the
// total number of songs on the wall.
func (s *Service) ListSongs(ctx context.Context, viewerHash string, order Order) (*Listing, error) {
	songs, err := s.store.ListSongs(ctx, order, MaxListSongs)
	if err != nil {
		s.logger.Error("listing songs", "err", err)
		return nil, internal(msgLoadFailed, err)
	}

	if err := s.annotate(ctx, songs, viewerHash); err != nil {
		s.logger.Error("loading viewer likes", "err", err)
		return nil, internal(msgLoadFailed, err)
	}

	total, err := s.store.CountSongs(ctx, CountFilter{})
	if err != nil {
		s.logger.Error("counting songs", "err", err)
		return nil, internal(msgLoadFailed, err)
	}

	return &Listing{Songs: songs, TotalCount: total}, nil
}

// Wall is ListSongs for the initial page render: a store failure yields an
// empty wall instead of an error.
func (s *Service) Wall(ctx context.Context, viewerHash string, order Order) *Listing {
	listing, err := s.ListSongs(ctx, viewerHash, order)
	if err != nil {
		return &Listing{Songs: []Song{}}
	}
	return listing
}

func (s *Service) annotate(ctx context.Context, songs []Song, viewerHash string) error {
	if len(songs) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(songs))
	for i := range songs {
		ids[i] = songs[i].ID
	}

	liked, err := s.store.LikedSongIDs(ctx, ids, viewerHash)
	if err != nil {
		return err
	}

	for i := range songs {
		songs[i].Liked = liked[songs[i].ID]
		songs[i].IsOwner = songs[i].IPHash == viewerHash
	}
	return nil
}

// CreateSongs pins the songs in req for the viewer. A nil req stands for a
// body that could not be decoded; it is still checked against the quota first
// so an exhausted visitor always sees the quota message.
//
// Every entry is validated before any catalog lookup. Entries are then
// fetched, coloured and inserted one at a time, in request order.
func (s *Service) CreateSongs(ctx context.Context, viewerHash string, req *CreateRequest) ([]Song, error) {
	used, err := s.store.CountSongs(ctx, CountFilter{
		IPHash: viewerHash,
		Since:  s.now().Add(-QuotaWindow),
	})
	if err != nil {
		s.logger.Error("counting pins for quota", "err", err)
		return nil, internal(msgSaveFailed, err)
	}
	if used >= DailyPinLimit {
		return nil, limited(msgQuotaUsed)
	}

	if req == nil {
		return nil, invalid(msgInvalid)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength ||
		len(req.Songs) == 0 || len(req.Songs) > DailyPinLimit {
		return nil, invalid(msgInvalid)
	}

	if used+len(req.Songs) > DailyPinLimit {
		return nil, limited(fmt.Sprintf("You can only pin %d more song(s) today.", DailyPinLimit-used))
	}

	for _, entry := range req.Songs {
		if err := validateEntry(entry); err != nil {
			return nil, err
		}
	}

	created := make([]Song, 0, len(req.Songs))
	for _, entry := range req.Songs {
		song, err := s.pin(ctx, name, viewerHash, entry)
		if err != nil {
			return nil, err
		}
		created = append(created, *song)
	}
	return created, nil
}

func validateEntry(entry SongEntry) error {
	if !spotifyIDPattern.MatchString(entry.SpotifyID) {
		return invalid(msgInvalidSongID)
	}
	if strings.TrimSpace(entry.Reason) == "" || utf8.RuneCountInString(entry.Reason) > MaxReasonLength {
		return invalid(msgInvalidReason)
	}
	for _, c := range []string{entry.Color, entry.BgTint} {
		if c != "" && !hexColorPattern.MatchString(c) {
			return invalid(msgInvalidColor)
		}
	}
	return nil
}

func (s *Service) pin(ctx context.Context, name, viewerHash string, entry SongEntry) (*Song, error) {
	track, err := s.catalog.GetTrack(ctx, entry.SpotifyID)
	if err != nil {
		s.logger.Error("fetching track", "spotify_id", entry.SpotifyID, "err", err)
		return nil, internal(spotify.ErrTrackFetchFailed.Error(), err)
	}

	color, bgTint := entry.Color, entry.BgTint
	if color == "" || bgTint == "" {
		extracted := s.palette.Extract(ctx, track.AlbumArtURL)
		if color == "" {
			color = extracted.Color
		}
		if bgTint == "" {
			bgTint = extracted.BgTint
		}
	}

	song := &Song{
		SpotifyID:   track.ID,
		Title:       track.Title,
		Artist:      track.Artist,
		AlbumArtURL: track.AlbumArtURL,
		PreviewURL:  track.PreviewURL,
		SpotifyURL:  track.SpotifyURL,
		Color:       color,
		BgTint:      bgTint,
		Reason:      entry.Reason,
		PinnedBy:    name,
		IPHash:      viewerHash,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateSong(ctx, song); err != nil {
		s.logger.Error("inserting song", "spotify_id", entry.SpotifyID, "err", err)
		return nil, internal(msgSaveFailed, err)
	}

	song.Liked = false
	song.IsOwner = true
	return song, nil
}

// DeleteSong removes a song owned by the viewer, likes first.
func (s *Service) DeleteSong(ctx context.Context, viewerHash string, id uuid.UUID) error {
	song, err := s.store.GetSong(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return notFound(msgNotFound)
	}
	if err != nil {
		s.logger.Error("loading song for delete", "id", id, "err", err)
		return internal(msgDeleteFailed, err)
	}

	if song.IPHash != viewerHash {
		return &Error{Kind: KindForbidden, Message: msgNotOwner}
	}

	if err := s.store.DeleteLikesForSong(ctx, id); err != nil {
		s.logger.Error("deleting likes", "id", id, "err", err)
		return internal(msgDeleteFailed, err)
	}
	if err := s.store.DeleteSong(ctx, id); err != nil {
		s.logger.Error("deleting song", "id", id, "err", err)
		return internal(msgDeleteFailed, err)
	}
	return nil
}

// ToggleLike flips the viewer's like on a song and returns the new state with
// the stored like count.
func (s *Service) ToggleLike(ctx context.Context, viewerHash string, songID uuid.UUID) (*LikeResult, error) {
	if !s.allow(ctx, ratelimit.ActionLike, viewerHash) {
		return nil, limited(msgSlowDown)
	}

	liked, err := s.store.ToggleLike(ctx, songID, viewerHash)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(msgNotFound)
	}
	if err != nil {
		s.logger.Error("toggling like", "id", songID, "err", err)
		return nil, internal(msgLikeFailed, err)
	}

	count, err := s.store.LikesCount(ctx, songID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(msgNotFound)
	}
	if err != nil {
		s.logger.Error("reading like count", "id", songID, "err", err)
		return nil, internal(msgLikeFailed, err)
	}

	return &LikeResult{Liked: liked, LikesCount: count}, nil
}

// Search looks query up in the catalog. Queries shorter than MinSearchQuery
// return no results without touching the limiter or the catalog.
func (s *Service) Search(ctx context.Context, viewerHash, query string) ([]spotify.SearchResult, error) {
	if utf8.RuneCountInString(query) < MinSearchQuery {
		return []spotify.SearchResult{}, nil
	}

	if !s.allow(ctx, ratelimit.ActionSearch, viewerHash) {
		return nil, limited(msgSlowDown)
	}

	results, err := s.catalog.Search(ctx, query)
	if err != nil {
		s.logger.Error("searching catalog", "query", query, "err", err)
		return nil, internal(spotify.PublicMessage(err), err)
	}
	return results, nil
}

// allow consults the limiter. Limiter errors let the request through.
func (s *Service) allow(ctx context.Context, action ratelimit.Action, key string) bool {
	ok, err := s.limiter.Allow(ctx, action, key)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, allowing request", "action", action, "err", err)
		return true
	}
	return ok
}
