package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

// Search returns up to five track summaries for query.
//
// An error response from the API may mean the cached token went bad, so the
// token is dropped and the search retried exactly once. Failed credential
// exchanges and cancelled requests never reach the API and are not retried.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	results, err := c.search(ctx, query)
	if err == nil {
		return results, nil
	}
	if !isErrorResponse(err) {
		c.logger.Error("search failed", "query", query, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}

	c.logger.Warn("search failed, retrying with a fresh token", "err", err)
	c.tokens.Invalidate()

	results, err = c.search(ctx, query)
	if err != nil {
		c.logger.Error("search failed", "query", query, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	return results, nil
}

func (c *Client) search(ctx context.Context, query string) ([]SearchResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	res, err := c.api.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(searchLimit))
	if err != nil {
		return nil, err
	}

	results := []SearchResult{}
	if res.Tracks == nil {
		return results, nil
	}

	for _, t := range res.Tracks.Tracks {
		if len(results) == searchLimit {
			break
		}
		results = append(results, convertSummary(t))
	}
	return results, nil
}

// isErrorResponse reports whether err is an error body decoded from the API.
func isErrorResponse(err error) bool {
	var apiErr spotify.Error
	return errors.As(err, &apiErr)
}
