// Package backend provides the HTTP/SSE client for the chat backend's
// MCP API. It implements the backend ports; all persisted execution and
// approval state lives behind this API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mcpgate/mcpgate/internal/domain"
	"github.com/mcpgate/mcpgate/internal/domain/approval"
	"github.com/mcpgate/mcpgate/internal/domain/execution"
	"github.com/mcpgate/mcpgate/internal/port/backend"
	"github.com/mcpgate/mcpgate/internal/resilience"
)

// Client talks to the chat backend's MCP REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker

	tokenMu sync.RWMutex
	token   string
}

// NewClient creates a backend API client.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetToken replaces the bearer token used for subsequent requests.
// Streams already open keep the token they connected with.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) authToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// executionRecord is the wire shape of a backend execution log record.
// It is validated once here; internal code only sees execution.Execution.
type executionRecord struct {
	ExecutionID  string          `json:"execution_id"`
	ToolName     string          `json:"tool_name"`
	ServerID     string          `json:"server_id"`
	ThreadID     string          `json:"thread_id,omitempty"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DurationMS   *int64          `json:"duration_ms,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
}

func (r *executionRecord) toDomain() (execution.Execution, error) {
	status, err := execution.ParseStatus(r.Status)
	if err != nil {
		return execution.Execution{}, fmt.Errorf("execution %s: %w", r.ExecutionID, err)
	}
	return execution.Execution{
		ID:             r.ExecutionID,
		ToolName:       r.ToolName,
		ServerID:       r.ServerID,
		ConversationID: r.ThreadID,
		Status:         status,
		Result:         r.Result,
		ErrorMessage:   r.ErrorMessage,
		DurationMS:     r.DurationMS,
		StartedAt:      r.StartedAt,
	}, nil
}

// ExecuteTool issues the remote execute call.
func (c *Client) ExecuteTool(ctx context.Context, req execution.Request) (execution.Execution, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return execution.Execution{}, fmt.Errorf("marshal execute request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/mcp/tools/execute", body)
	if err != nil {
		return execution.Execution{}, fmt.Errorf("execute tool %s: %w", req.ToolName, err)
	}

	var rec executionRecord
	if err := json.Unmarshal(resp, &rec); err != nil {
		return execution.Execution{}, fmt.Errorf("unmarshal execution: %w", err)
	}
	rec.ToolName = req.ToolName
	rec.ServerID = req.ServerID
	rec.ThreadID = req.ConversationID
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	return rec.toDomain()
}

// GetExecutionLog fetches the authoritative record for one execution.
func (c *Client) GetExecutionLog(ctx context.Context, id string) (execution.Execution, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/mcp/executions/"+url.PathEscape(id), nil)
	if err != nil {
		return execution.Execution{}, fmt.Errorf("get execution %s: %w", id, err)
	}

	var rec executionRecord
	if err := json.Unmarshal(resp, &rec); err != nil {
		return execution.Execution{}, fmt.Errorf("unmarshal execution: %w", err)
	}
	return rec.toDomain()
}

// CancelExecution asks the backend to cancel a running execution.
func (c *Client) CancelExecution(ctx context.Context, id string) error {
	if _, err := c.doRequest(ctx, http.MethodPost, "/api/mcp/executions/"+url.PathEscape(id)+"/cancel", []byte(`{}`)); err != nil {
		return fmt.Errorf("cancel execution %s: %w", id, err)
	}
	return nil
}

// ListExecutionLogs returns the aggregate execution log list.
func (c *Client) ListExecutionLogs(ctx context.Context, q backend.ListLogsQuery) ([]execution.Execution, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.ServerID != "" {
		params.Set("server_id", q.ServerID)
	}

	path := "/api/mcp/executions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	var result struct {
		Logs []executionRecord `json:"logs"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal executions: %w", err)
	}
	return recordsToDomain(result.Logs)
}

// ListThreadExecutionLogs returns executions for one conversation thread.
func (c *Client) ListThreadExecutionLogs(ctx context.Context, threadID string) ([]execution.Execution, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/mcp/threads/"+url.PathEscape(threadID)+"/executions", nil)
	if err != nil {
		return nil, fmt.Errorf("list thread executions %s: %w", threadID, err)
	}

	var recs []executionRecord
	if err := json.Unmarshal(resp, &recs); err != nil {
		return nil, fmt.Errorf("unmarshal thread executions: %w", err)
	}
	return recordsToDomain(recs)
}

func recordsToDomain(recs []executionRecord) ([]execution.Execution, error) {
	out := make([]execution.Execution, 0, len(recs))
	for i := range recs {
		ex, err := recs[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, nil
}

// CheckToolApproval asks the backend whether the tool is approved.
func (c *Client) CheckToolApproval(ctx context.Context, conversationID, serverID, toolName string) (approval.CheckResult, error) {
	params := url.Values{}
	params.Set("conversation_id", conversationID)
	params.Set("server_id", serverID)
	params.Set("tool_name", toolName)

	resp, err := c.doRequest(ctx, http.MethodGet, "/api/mcp/approvals/check?"+params.Encode(), nil)
	if err != nil {
		return approval.CheckResult{}, fmt.Errorf("check approval %s/%s: %w", serverID, toolName, err)
	}

	var result struct {
		Approved bool   `json:"approved"`
		Source   string `json:"source"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return approval.CheckResult{}, fmt.Errorf("unmarshal approval check: %w", err)
	}

	source := approval.Source(result.Source)
	switch source {
	case approval.SourceConversation, approval.SourceGlobal, approval.SourceNone:
	case "":
		source = approval.SourceNone
	default:
		return approval.CheckResult{}, fmt.Errorf("%w: unknown approval source %q", domain.ErrValidation, result.Source)
	}
	return approval.CheckResult{Approved: result.Approved, Source: source}, nil
}

// SetToolGlobalApproval creates or updates a global approval record.
func (c *Client) SetToolGlobalApproval(ctx context.Context, serverID, toolName string, req backend.SetGlobalRequest) error {
	body, err := json.Marshal(map[string]any{
		"approved":     req.Approved,
		"auto_approve": req.AutoApprove,
		"expires_at":   req.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal global approval: %w", err)
	}

	path := "/api/mcp/servers/" + url.PathEscape(serverID) + "/tools/" + url.PathEscape(toolName) + "/global-approval"
	if _, err := c.doRequest(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("set global approval %s/%s: %w", serverID, toolName, err)
	}
	return nil
}

// RemoveGlobalToolApproval deletes a global approval record.
func (c *Client) RemoveGlobalToolApproval(ctx context.Context, serverID, toolName string) error {
	path := "/api/mcp/servers/" + url.PathEscape(serverID) + "/tools/" + url.PathEscape(toolName) + "/global-approval"
	if _, err := c.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("remove global approval %s/%s: %w", serverID, toolName, err)
	}
	return nil
}

// CreateConversationApproval creates or updates a conversation-scoped record.
func (c *Client) CreateConversationApproval(ctx context.Context, rec approval.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"server_id":  rec.ServerID,
		"tool_name":  rec.ToolName,
		"approved":   rec.Approved,
		"expires_at": rec.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal conversation approval: %w", err)
	}

	path := "/api/mcp/conversations/" + url.PathEscape(rec.ConversationID) + "/approvals"
	if _, err := c.doRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("create conversation approval %s: %w", rec.ConversationID, err)
	}
	return nil
}

// CleanExpiredApprovals bulk-purges expired records.
func (c *Client) CleanExpiredApprovals(ctx context.Context) (int, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/mcp/approvals/clean-expired", []byte(`{}`))
	if err != nil {
		return 0, fmt.Errorf("clean expired approvals: %w", err)
	}

	var result struct {
		CleanedCount int `json:"cleaned_count"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, fmt.Errorf("unmarshal clean result: %w", err)
	}
	return result.CleanedCount, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if tok := c.authToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s %s", domain.ErrNotFound, method, path)
		case resp.StatusCode == http.StatusConflict:
			return fmt.Errorf("%w: %s %s: %s", domain.ErrConflict, method, path, string(data))
		case resp.StatusCode >= 400:
			return fmt.Errorf("backend API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
