// Package transport is the client side of the sync wire contract: batch
// push, cursor-based pull, schema negotiation, and the SSE subscription.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/schema"
	"github.com/trialware/diarysync/internal/wire"
)

// Client talks to one sync server. The bearer token is supplied by the
// identity layer; the core forwards it without interpreting it.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// PushEvents submits a batch and returns per-event results in request
// order. A transport failure returns an error wrapped so the queue retries
// it; per-event rejections come back inside the results.
func (c *Client) PushEvents(ctx context.Context, batch []*event.Event) ([]*wire.PushResult, error) {
	body, err := json.Marshal(wire.PushRequest{Events: batch})
	if err != nil {
		return nil, err
	}
	var resp wire.PushResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/events", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Pull fetches confirmed events after the given global cursor, optionally
// filtered to specific aggregates.
func (c *Client) Pull(ctx context.Context, sinceGlobal int64, aggregateIDs []string) (*wire.PullResponse, error) {
	q := url.Values{}
	q.Set("since_sequence", strconv.FormatInt(sinceGlobal, 10))
	if len(aggregateIDs) > 0 {
		q.Set("aggregate_ids", strings.Join(aggregateIDs, ","))
	}
	var resp wire.PullResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/events?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AggregateEvents fetches one aggregate's confirmed history from a given
// sequence. Used to fill gaps and to load remote branches during conflict
// resolution.
func (c *Client) AggregateEvents(ctx context.Context, aggregateID string, fromSequence int64) ([]*event.Event, error) {
	path := "/api/aggregates/" + url.PathEscape(aggregateID) + "/events?from_sequence=" +
		strconv.FormatInt(fromSequence, 10)
	var resp wire.PullResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// SchemaInfo performs the session-start version handshake.
func (c *Client) SchemaInfo(ctx context.Context) (schema.ServerInfo, error) {
	var info schema.ServerInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/schema", nil, &info); err != nil {
		return schema.ServerInfo{}, err
	}
	return info, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server round-trip: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusUpgradeRequired:
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s", common.ErrUpgradeRequired, strings.TrimSpace(string(msg)))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: server rejected request (%d): %s",
			common.ErrValidation, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("server error: %s", resp.Status)
	}
}
