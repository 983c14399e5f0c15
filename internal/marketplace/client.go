package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/you/crosslist/internal/handler"
)

// Client is a minimal REST adapter for marketplaces with a real API. It
// implements the engine's collaborator contract and nothing more; payload
// construction and credential refresh live in the API layer upstream of
// job creation.
type Client struct {
	name    string
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(name, baseURL, token string) *Client {
	return &Client{
		name:    name,
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

type listingResponse struct {
	ListingID string `json:"listing_id"`
	URL       string `json:"url"`
	Message   string `json:"message"`
}

func (c *Client) Publish(ctx context.Context, resourceID string, params json.RawMessage) (handler.ListingRef, error) {
	return c.do(ctx, http.MethodPost, "/listings", map[string]any{
		"resource_id": resourceID,
		"params":      params,
	})
}

func (c *Client) Update(ctx context.Context, resourceID, listingID string, params json.RawMessage) (handler.ListingRef, error) {
	return c.do(ctx, http.MethodPut, "/listings/"+listingID, map[string]any{
		"resource_id": resourceID,
		"params":      params,
	})
}

func (c *Client) Delete(ctx context.Context, listingID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/listings/"+listingID, nil)
	return err
}

func (c *Client) Sync(ctx context.Context, resourceID string) (handler.ListingRef, error) {
	return c.do(ctx, http.MethodGet, "/listings/by-resource/"+resourceID, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (handler.ListingRef, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return handler.ListingRef{}, errors.Wrap(err, "marshal body")
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return handler.ListingRef{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// network trouble: the engine may retry
		return handler.ListingRef{}, handler.Transientf("%s: %v", c.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var lr listingResponse
		if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil && err != io.EOF {
			return handler.ListingRef{}, handler.Transientf("%s: decode response: %v", c.name, err)
		}
		return handler.ListingRef{ListingID: lr.ListingID, URL: lr.URL}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return handler.ListingRef{}, handler.Transientf("%s: status %d", c.name, resp.StatusCode)
	default:
		// 4xx: the marketplace rejected the request, retrying cannot help
		var lr listingResponse
		_ = json.NewDecoder(resp.Body).Decode(&lr)
		if lr.Message != "" {
			return handler.ListingRef{}, handler.Permanentf("%s: %s", c.name, lr.Message)
		}
		return handler.ListingRef{}, handler.Permanentf("%s: status %d", c.name, resp.StatusCode)
	}
}
