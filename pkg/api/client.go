// Package api talks to the signals backend: the verified-project directory,
// per-author signals, and the three price upstreams.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kol-signals/pkg/metrics"
	"github.com/kol-signals/pkg/models"
)

// ClientHeader identifies this client on every request.
const ClientHeader = "X-Client-Id"

// ErrNoPrice is returned when the upstream answered without a price.
var ErrNoPrice = errors.New("price missing from response")

// ErrNoAuthor rejects a save for a post whose author could not be resolved.
var ErrNoAuthor = errors.New("post author unknown")

// Error is a non-2xx response. The body text is the user-facing message.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

type Client struct {
	baseURL    string
	httpClient *resty.Client
}

func New(baseURL, clientID string, timeout time.Duration) *Client {
	rc := resty.New().
		SetTimeout(timeout).
		SetHeader(ClientHeader, clientID).
		SetHeader("Accept", "application/json")
	return &Client{baseURL: baseURL, httpClient: rc}
}

type listEnvelope[T any] struct {
	Values []T `json:"values"`
}

// ListProjects fetches every trackable project.
func (c *Client) ListProjects(ctx context.Context) ([]models.TrackedProject, error) {
	var out listEnvelope[models.TrackedProject]
	if err := c.get(ctx, "/api/verified", nil, &out); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out.Values, nil
}

// ListSignals fetches the signals saved against an author's posts.
func (c *Client) ListSignals(ctx context.Context, handle string) ([]models.Signal, error) {
	var out listEnvelope[models.Signal]
	path := "/api/signals/" + models.NormalizeHandle(handle)
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list signals for @%s: %w", handle, err)
	}
	return out.Values, nil
}

// CreateSignal saves a signal. token is sent as a bearer token when non-empty.
func (c *Client) CreateSignal(ctx context.Context, req models.SignalRequest, token string) (*models.Signal, error) {
	if req.TwitterUsername == "" {
		return nil, fmt.Errorf("create signal: %w", ErrNoAuthor)
	}
	r := c.httpClient.R().SetContext(ctx).SetBody(req)
	if token != "" {
		r.SetAuthToken(token)
	}
	resp, err := r.Post(c.baseURL + "/api/signals/" + models.NormalizeHandle(req.TwitterUsername))
	if err != nil {
		return nil, fmt.Errorf("create signal: %w", err)
	}
	metrics.RecordUpstream("POST /api/signals", resp.Time())
	if !resp.IsSuccess() {
		return nil, &Error{Status: resp.StatusCode(), Body: resp.String()}
	}

	created := req.Signal("")
	if err := json.Unmarshal(resp.Body(), &created); err != nil {
		return nil, fmt.Errorf("create signal: decode response: %w", err)
	}
	return &created, nil
}

// TokenPrice is the contract-addressed token price; at nil means latest.
func (c *Client) TokenPrice(ctx context.Context, chain models.Chain, address string, at *time.Time) (float64, error) {
	q := map[string]string{"chain": string(chain), "address": address}
	if at != nil {
		q["timestamp"] = strconv.FormatInt(at.Unix(), 10)
	}
	return c.price(ctx, "/api/price/token", q, "price")
}

// CoinGeckoPrice is the id-addressed token price; date nil means latest.
func (c *Client) CoinGeckoPrice(ctx context.Context, id string, date *time.Time) (float64, error) {
	q := map[string]string{"id": id}
	if date != nil {
		q["date"] = models.NotedDate(*date)
	}
	return c.price(ctx, "/api/price/coingecko", q, "price")
}

// NFTFloorPrice is the collection floor price; date nil means latest.
func (c *Client) NFTFloorPrice(ctx context.Context, chain models.Chain, address string, date *time.Time) (float64, error) {
	q := map[string]string{"chain": string(chain), "address": address}
	if date != nil {
		q["date"] = models.NotedDate(*date)
	}
	return c.price(ctx, "/api/price/nft", q, "floorPrice")
}

func (c *Client) price(ctx context.Context, path string, query map[string]string, field string) (float64, error) {
	var out map[string]json.RawMessage
	if err := c.get(ctx, path, query, &out); err != nil {
		return 0, err
	}
	raw, ok := out[field]
	if !ok || string(raw) == "null" {
		return 0, ErrNoPrice
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", field, err)
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	r := c.httpClient.R().SetContext(ctx)
	if query != nil {
		r.SetQueryParams(query)
	}
	resp, err := r.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	metrics.RecordUpstream("GET "+endpointLabel(path), resp.Time())
	if resp.StatusCode() != http.StatusOK {
		return &Error{Status: resp.StatusCode(), Body: resp.String()}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// endpointLabel drops the handle from per-author paths.
func endpointLabel(path string) string {
	if strings.HasPrefix(path, "/api/signals/") {
		return "/api/signals"
	}
	return path
}
