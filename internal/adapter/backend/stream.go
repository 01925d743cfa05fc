package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
	"github.com/mcpgate/mcpgate/internal/domain/serverlog"
)

// logMessage is the wire shape of one SSE log event.
type logMessage struct {
	Timestamp time.Time `json:"timestamp"`
	LogType   string    `json:"log_type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// StreamServerLogs opens the backend's SSE log stream for one server and
// forwards each event on the returned channel in arrival order. The
// channel is closed when the stream ends or ctx is cancelled.
func (c *Client) StreamServerLogs(ctx context.Context, serverID string) (<-chan serverlog.Entry, error) {
	path := c.baseURL + "/api/mcp/servers/" + url.PathEscape(serverID) + "/logs/stream"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create stream request: %v", domain.ErrStreamConnection, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if tok := c.authToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	// The stream outlives the client's request timeout; use a transport
	// without one.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStreamConnection, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: backend returned %d", domain.ErrStreamConnection, resp.StatusCode)
	}

	ch := make(chan serverlog.Entry)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue // comments, event names, blank keep-alive lines
			}

			entry, err := parseLogMessage(serverID, strings.TrimSpace(data))
			if err != nil {
				slog.Warn("skipping malformed log event", "server_id", serverID, "error", err)
				continue
			}

			select {
			case ch <- entry:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			slog.Warn("log stream read failed", "server_id", serverID, "error", err)
		}
	}()

	return ch, nil
}

// parseLogMessage validates one SSE payload into a domain entry.
func parseLogMessage(serverID, data string) (serverlog.Entry, error) {
	var msg logMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return serverlog.Entry{}, fmt.Errorf("unmarshal log event: %w", err)
	}

	typ, err := serverlog.ParseType(msg.LogType)
	if err != nil {
		return serverlog.Entry{}, err
	}

	return serverlog.Entry{
		ServerID:  serverID,
		Type:      typ,
		Level:     msg.Level,
		Message:   msg.Message,
		Timestamp: msg.Timestamp,
	}, nil
}
