// Package palette derives a display colour and a lighter background tint from
// album artwork.
package palette

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// FallbackColor is used whenever no swatch can be extracted.
	FallbackColor = "#8a7a6a"

	// FallbackBgTint pairs with FallbackColor.
	FallbackBgTint = "#a09080"

	// TintAmount is how far BgTint is moved towards white.
	TintAmount = 0.3

	fetchTimeout  = 10 * time.Second
	maxImageBytes = 8 << 20
)

var (
	// ErrNoSwatch is reported when the image has no usable colours.
	ErrNoSwatch = errors.New("no suitable swatch")

	sizeSegment = regexp.MustCompile(`/\d+x\d+/`)
)

// Result is the outcome of an extraction. Color and BgTint are always set.
type Result struct {
	Color    string
	BgTint   string
	Fallback bool  // true when the fallback pair was used
	Err      error // cause of the fallback, for logging
}

func fallback(err error) Result {
	return Result{Color: FallbackColor, BgTint: FallbackBgTint, Fallback: true, Err: err}
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient sets the client used to download artwork.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) { e.client = c }
}

// WithSwatchCount sets the number of k-means clusters used to group colours.
func WithSwatchCount(k int) Option {
	return func(e *Extractor) {
		if k > 0 {
			e.swatches = k
		}
	}
}

// Extractor downloads artwork and picks a representative colour from it.
type Extractor struct {
	client   *http.Client
	logger   *log.Logger
	swatches int
}

// New creates an Extractor.
func New(logger *log.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	e := &Extractor{
		client:   &http.Client{Timeout: fetchTimeout},
		logger:   logger.With("component", "palette"),
		swatches: defaultSwatches,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the colour pair for the artwork at imageURL. It never fails:
// any problem yields the fallback pair with Err set.
func (e *Extractor) Extract(ctx context.Context, imageURL string) Result {
	if imageURL == "" {
		return fallback(errors.New("no artwork"))
	}

	img, err := e.fetch(ctx, UpgradeURL(imageURL))
	if err != nil {
		e.logger.Warn("artwork fetch failed, using fallback colours", "url", imageURL, "err", err)
		return fallback(err)
	}

	color, ok := Dominant(img, e.swatches)
	if !ok {
		e.logger.Debug("no swatch found, using fallback colours", "url", imageURL)
		return fallback(ErrNoSwatch)
	}

	return Result{Color: color, BgTint: Lighten(color, TintAmount)}
}

func (e *Extractor) fetch(ctx context.Context, url string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artwork request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artwork returned status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode artwork: %w", err)
	}
	return img, nil
}

// UpgradeURL swaps the first "/WxH/" path segment for "/300x300/". URLs
// without one are returned unchanged.
func UpgradeURL(u string) string {
	loc := sizeSegment.FindStringIndex(u)
	if loc == nil {
		return u
	}
	return u[:loc[0]] + "/300x300/" + u[loc[1]:]
}

// Lighten moves each channel of a "#rrggbb" colour towards 255 by amount.
// Malformed input is returned unchanged.
func Lighten(hex string, amount float64) string {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return hex
	}
	lift := func(c uint8) uint8 {
		v := math.Round(float64(c) + (255-float64(c))*amount)
		return uint8(min(255, v))
	}
	return formatHex(lift(r), lift(g), lift(b))
}

func parseHex(hex string) (r, g, b uint8, ok bool) {
	if len(hex) != 7 || hex[0] != '#' {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}

func formatHex(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
