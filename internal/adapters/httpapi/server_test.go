package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-sre/cortex/internal/adapters/httpapi"
	"github.com/cortex-sre/cortex/internal/archive"
	"github.com/cortex-sre/cortex/internal/hub"
	"github.com/cortex-sre/cortex/internal/orchestrator"
	"github.com/cortex-sre/cortex/internal/planner"
	"github.com/cortex-sre/cortex/internal/registry"
	"github.com/cortex-sre/cortex/pkg/domain"
)

type execFunc func(ctx context.Context, tool string, params map[string]any) (any, error)

func (f execFunc) Execute(ctx context.Context, tool string, params map[string]any) (any, error) {
	return f(ctx, tool, params)
}

type synthFunc func(ctx context.Context, query string, results []planner.ToolResult) (string, error)

func (f synthFunc) Synthesize(ctx context.Context, query string, results []planner.ToolResult) (string, error) {
	return f(ctx, query, results)
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, opts ...httpapi.Option) *httptest.Server {
	t.Helper()
	p := planner.Func(func(ctx context.Context, query string, tree []domain.Node) (*domain.Plan, error) {
		return &domain.Plan{Tasks: []domain.TaskDescriptor{
			{Label: "Fetch latency", Tool: "metrics_tool"},
		}}, nil
	})
	synth := synthFunc(func(ctx context.Context, query string, results []planner.ToolResult) (string, error) {
		return "final answer", nil
	})
	exec := execFunc(func(ctx context.Context, tool string, params map[string]any) (any, error) {
		return "ok", nil
	})
	reg := registry.New(orchestrator.New(p, synth, exec), hub.New(), archive.NewMemory())

	srv := httptest.NewServer(httpapi.NewServer(reg, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func initiate(t *testing.T, srv *httptest.Server, sessionID, query string) (string, int) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"query": query, "session_id": sessionID})
	resp, err := http.Post(srv.URL+"/api/v1/initiate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		WorkflowID string `json:"workflow_id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.WorkflowID, resp.StatusCode
}

func TestInitiateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	wfID, status := initiate(t, srv, "sess-1", "why is checkout slow")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Regexp(t, `^wf-[0-9a-f]{12}$`, wfID)
}

func TestInitiateValidation(t *testing.T) {
	srv := newTestServer(t)

	_, status := initiate(t, srv, "", "query without session")
	assert.Equal(t, http.StatusBadRequest, status)

	resp, err := http.Post(srv.URL+"/api/v1/initiate", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamDeliversOrderedEventsAndCloses(t *testing.T) {
	srv := newTestServer(t)

	wfID, status := initiate(t, srv, "sess-1", "why is checkout slow")
	require.Equal(t, http.StatusAccepted, status)

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/ws/sess-1/" + wfID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var events []domain.Event
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
				"expected normal closure, got %v", err)
			break
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventWorkflow, events[len(events)-1].Type)

	// Every node's first appearance follows its parent's.
	seen := make(map[string]bool)
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, domain.EventNode, ev.Type)
		data, _ := json.Marshal(ev.Payload)
		var node domain.Node
		require.NoError(t, json.Unmarshal(data, &node))
		if node.ParentID != "" && !seen[node.ID] {
			assert.True(t, seen[node.ParentID], "parent of %s not streamed first", node.ID)
		}
		seen[node.ID] = true
	}
}

func TestStreamUnknownWorkflow(t *testing.T) {
	srv := newTestServer(t)

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/ws/sess-1/wf-missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetWorkflowSnapshot(t *testing.T) {
	srv := newTestServer(t)

	wfID, _ := initiate(t, srv, "sess-1", "q")

	// Snapshot is valid at any point in the run; poll until terminal.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/v1/workflows/" + wfID)
		require.NoError(t, err)
		var view registry.View
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		if view.Workflow.Status.Terminal() {
			assert.Equal(t, domain.WorkflowCompleted, view.Workflow.Status)
			assert.NotEmpty(t, view.Nodes)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("workflow never reached a terminal state")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/workflows/wf-missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, status := initiate(t, srv, "sess-1", "q")
	require.Equal(t, http.StatusAccepted, status)

	body, _ := json.Marshal(map[string]string{"session_id": "sess-1"})
	resp, err := http.Post(srv.URL+"/api/v1/workflows/wf-missing/cancel", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, httpapi.WithHealthChecker(healthFunc(func(ctx context.Context) error {
		return nil
	})))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestHealthDegraded(t *testing.T) {
	srv := newTestServer(t, httpapi.WithHealthChecker(healthFunc(func(ctx context.Context) error {
		return errors.New("tool-executor unreachable")
	})))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "degraded", out["status"])
	assert.Contains(t, out["detail"], "unreachable")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/initiate", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
