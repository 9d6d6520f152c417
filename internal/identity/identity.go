// Package identity derives the pseudonymous visitor identity used for
// ownership, likes and rate limiting.
//
// A visitor is nothing more than a hash of the first address in the request's
// forwarding header. Anyone can set that header and visitors behind the same
// address share an identity; the wall accepts both.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	// ForwardedForHeader is the header the originating address is read from.
	ForwardedForHeader = "X-Forwarded-For"

	// Unknown is used when no address can be read from the request.
	Unknown = "unknown"
)

// Visitor is the identity of the client making a request.
type Visitor struct {
	Address string
	Hash    string
}

// FromRequest resolves the visitor for r.
func FromRequest(r *http.Request) Visitor {
	addr := FromHeader(r.Header.Get(ForwardedForHeader))
	return Visitor{Address: addr, Hash: Hash(addr)}
}

// FromHeader returns the first comma-separated address in a forwarding
// header value, trimmed. Empty values yield Unknown.
func FromHeader(value string) string {
	first, _, _ := strings.Cut(value, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return Unknown
	}
	return first
}

// Hash returns the hex-encoded SHA-256 of addr. It is a pure function of its
// input so the same address maps to the same visitor across requests and
// restarts.
func Hash(addr string) string {
	sum := sha256.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:])
}
