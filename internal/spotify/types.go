package spotify

// SearchResult is a track summary returned by Search.
type SearchResult struct {
	SpotifyID   string `json:"spotifyId"`
	Title       string `json:"title"`
	Artist      string `json:"artist"` // Comma-separated artist names
	Album       string `json:"album"`
	AlbumArtURL string `json:"albumArtUrl"`
}

// Track contains the detail needed to pin a song.
type Track struct {
	ID          string
	Title       string
	Artist      string // Comma-separated artist names
	Album       string
	AlbumArtURL string  // First album image, or empty
	PreviewURL  *string // nil when Spotify has no preview
	SpotifyURL  string
}
