package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kazz187/taskflow/internal/workflow"
)

const (
	DefaultActionTimeout = 30 * time.Second

	// maxDetailBody caps how much of a response body is kept in an action log.
	maxDetailBody = 2048
)

// ErrUnsupportedAction is returned for action types this build cannot run.
var ErrUnsupportedAction = errors.New("unsupported action type")

// ActionError ties an action failure to the action that produced it.
type ActionError struct {
	ActionID string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s: %v", e.ActionID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Result carries the details recorded for a successful action.
type Result struct {
	Details map[string]string
}

// Action is one executable step of a job. The set of implementations is
// closed: ActionFromConfig is the only constructor.
type Action interface {
	Execute(ctx context.Context, eventContext json.RawMessage) (*Result, error)
	isAction()
}

// HTTPRequestAction calls an external endpoint. With no configured body the
// triggering context is sent as is; the body is never templated.
type HTTPRequestAction struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	HasBody bool

	client  *http.Client
	timeout time.Duration
}

func (*HTTPRequestAction) isAction() {}

func (a *HTTPRequestAction) Execute(ctx context.Context, eventContext json.RawMessage) (*Result, error) {
	if a.URL == "" {
		return nil, errors.New("http request: url is required")
	}
	body := a.Body
	if !a.HasBody {
		body = eventContext
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if !a.HasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxDetailBody+1))
	if err != nil {
		return nil, fmt.Errorf("http request: read response: %w", err)
	}
	truncated := len(respBody) > maxDetailBody
	if truncated {
		respBody = respBody[:maxDetailBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	details := map[string]string{
		"status_code": strconv.Itoa(resp.StatusCode),
		"body":        string(respBody),
	}
	if truncated {
		details["body_truncated"] = "true"
	}
	return &Result{Details: details}, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http request: unexpected status %d", e.StatusCode)
}

// UnsupportedAction stands in for an action type with no implementation so
// the failure is logged and retried like any other.
type UnsupportedAction struct {
	Type workflow.ActionType
}

func (*UnsupportedAction) isAction() {}

func (a *UnsupportedAction) Execute(context.Context, json.RawMessage) (*Result, error) {
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Type)
}

// Executor builds runnable actions from rule snapshots.
type Executor struct {
	client  *http.Client
	timeout time.Duration
}

func NewExecutor(client *http.Client, timeout time.Duration) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &Executor{client: client, timeout: timeout}
}

func (e *Executor) ActionFromConfig(a workflow.Action) Action {
	switch a.Type {
	case workflow.ActionTypeHTTPRequest:
		return e.httpRequestAction(a.Config)
	default:
		return &UnsupportedAction{Type: a.Type}
	}
}

func (e *Executor) httpRequestAction(config map[string]any) *HTTPRequestAction {
	action := &HTTPRequestAction{
		Method:  http.MethodPost,
		Headers: map[string]string{},
		client:  e.client,
		timeout: e.timeout,
	}
	if m, ok := config["method"].(string); ok && m != "" {
		action.Method = strings.ToUpper(m)
	}
	action.URL, _ = config["url"].(string)

	switch headers := config["headers"].(type) {
	case map[string]any:
		for k, v := range headers {
			action.Headers[k] = fmt.Sprint(v)
		}
	case map[string]string:
		for k, v := range headers {
			action.Headers[k] = v
		}
	}

	if body, ok := config["body"]; ok && body != nil {
		action.HasBody = true
		switch b := body.(type) {
		case string:
			action.Body = []byte(b)
		default:
			// Structured bodies from YAML or JSON rule documents are sent as JSON.
			encoded, err := json.Marshal(b)
			if err != nil {
				action.Body = []byte(fmt.Sprint(b))
			} else {
				action.Body = encoded
			}
		}
	}
	return action
}
