package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/trialware/diarysync/internal/event"
)

// Subscribe opens the server-sent-events stream and invokes handler for
// every inbound event in ascending global sequence order. On any transport
// failure it reconnects with exponential backoff, resuming from the cursor
// returned by the last successful handler call, so a gap in connectivity
// never loses events. Subscribe blocks until ctx is cancelled.
//
// handler returns the new resume cursor (normally the event's GlobalSeq);
// a handler error tears down the stream and is retried from the old cursor.
func (c *Client) Subscribe(ctx context.Context, sinceGlobal int64, aggregateIDs []string, handler func(*event.Event) (int64, error)) error {
	cursor := sinceGlobal

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0 // retry until cancelled

	operation := func() error {
		err := c.stream(ctx, &cursor, aggregateIDs, handler)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) stream(ctx context.Context, cursor *int64, aggregateIDs []string, handler func(*event.Event) (int64, error)) error {
	path := "/api/events/stream?since_sequence=" + strconv.FormatInt(*cursor, 10)
	if len(aggregateIDs) > 0 {
		path += "&aggregate_ids=" + strings.Join(aggregateIDs, ",")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// No client timeout here: the stream is long-lived and ctx owns its
	// lifetime.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var e event.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return fmt.Errorf("subscribe: malformed stream event: %w", err)
		}
		next, err := handler(&e)
		if err != nil {
			return fmt.Errorf("subscribe: handler: %w", err)
		}
		*cursor = next
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("subscribe: stream closed: %w", err)
	}
	return fmt.Errorf("subscribe: stream ended")
}
