package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/damfello/bequ-15/apperr"
)

const (
	workflowErrorBodyLimit = 4096
	formatErrorMessage     = "Chat engine response format error."
)

// ChatEngine produces a reply for one chat turn.
type ChatEngine interface {
	Reply(ctx context.Context, sessionID, chatInput string) (string, error)
}

// WorkflowClient posts chat turns to an n8n webhook guarded by a static header.
// The POST is not idempotent and is never retried.
type WorkflowClient struct {
	url         string
	headerName  string
	headerValue string
	timeout     time.Duration
	httpc       *http.Client
}

// NewWorkflowClient builds a client. A nil httpc uses http.DefaultClient.
func NewWorkflowClient(url, headerName, headerValue string, timeout time.Duration, httpc *http.Client) *WorkflowClient {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WorkflowClient{
		url:         url,
		headerName:  headerName,
		headerValue: headerValue,
		timeout:     timeout,
		httpc:       httpc,
	}
}

type workflowRequest struct {
	SessionID string `json:"sessionId"`
	ChatInput string `json:"chatInput"`
}

// Reply implements ChatEngine.
func (w *WorkflowClient) Reply(ctx context.Context, sessionID, chatInput string) (string, error) {
	logger := zerolog.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	body, err := json.Marshal(workflowRequest{SessionID: sessionID, ChatInput: chatInput})
	if err != nil {
		return "", fmt.Errorf("encode workflow request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", apperr.Upstream("Chat engine failed: invalid workflow URL", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(w.headerName, w.headerValue)

	res, err := w.httpc.Do(req)
	if err != nil {
		return "", apperr.Upstream("Chat engine failed: "+transportText(err), err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, workflowErrorBodyLimit))
		logger.Error().Int("status", res.StatusCode).Str("body", string(snippet)).Msg("workflow engine returned error")
		return "", apperr.Upstream("Chat engine failed: "+statusText(res), fmt.Errorf("workflow http %d", res.StatusCode))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", apperr.Upstream(formatErrorMessage, err)
	}
	output, ok := extractOutput(raw)
	if !ok {
		logger.Error().Int("bytes", len(raw)).Msg("workflow response has no output field")
		return "", apperr.Upstream(formatErrorMessage, nil)
	}
	return output, nil
}

// extractOutput reads "output" from an object, or from the first element
// when the workflow responds with all items. Only a missing field fails;
// null reads as an empty reply and other non-string values are kept as
// their JSON text.
func extractOutput(raw []byte) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return "", false
		}
		raw = items[0]
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	v, ok := obj["output"]
	if !ok {
		return "", false
	}
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return "", false
	}
	if bytes.Equal(v, []byte("null")) {
		return "", true
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return string(v), true
}

func statusText(res *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	if text == "" {
		text = strconv.Itoa(res.StatusCode)
	}
	return text
}

func transportText(err error) string {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return "timeout"
	}
	return "unreachable"
}
