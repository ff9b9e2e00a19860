package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/leaseline-dev/leaseline/internal/store"
	"github.com/leaseline-dev/leaseline/internal/store/sqlstore"
	"github.com/leaseline-dev/leaseline/pkg/optimistic"
	"github.com/leaseline-dev/leaseline/pkg/restapi"
)

func newTestServer(t *testing.T, opts ...func(*Config)) *httptest.Server {
	t.Helper()
	st, err := sqlstore.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := Config{Store: st}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
		st.Close()
	})
	return ts
}

type testEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, testEnvelope) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env testEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func createStatusT(t *testing.T, ts *httptest.Server, name string) store.Status {
	t.Helper()
	code, env := doJSON(t, ts, http.MethodPost, "/api/statuses", map[string]string{"name": name})
	if code != http.StatusCreated {
		t.Fatalf("create status %q: status %d, error %q", name, code, env.Error)
	}
	var st store.Status
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func createTaskT(t *testing.T, ts *httptest.Server, statusID int64, title string) store.Task {
	t.Helper()
	path := fmt.Sprintf("/api/statuses/%d/tasks", statusID)
	code, env := doJSON(t, ts, http.MethodPost, path, map[string]string{"title": title})
	if code != http.StatusCreated {
		t.Fatalf("create task %q: status %d, error %q", title, code, env.Error)
	}
	var tk store.Task
	if err := json.Unmarshal(env.Data, &tk); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return tk
}

func TestStatusLifecycle(t *testing.T) {
	ts := newTestServer(t)

	created := createStatusT(t, ts, "Applied")

	code, env := doJSON(t, ts, http.MethodPatch, fmt.Sprintf("/api/statuses/%d", created.ID), map[string]string{"name": "Screening"})
	if code != http.StatusOK {
		t.Fatalf("patch: status %d, error %q", code, env.Error)
	}
	var updated store.Status
	json.Unmarshal(env.Data, &updated)
	if updated.Name != "Screening" {
		t.Errorf("name = %q, want Screening", updated.Name)
	}

	code, env = doJSON(t, ts, http.MethodGet, "/api/statuses", nil)
	if code != http.StatusOK {
		t.Fatalf("list: status %d", code)
	}
	var list []store.Status
	json.Unmarshal(env.Data, &list)
	if len(list) != 1 || list[0].Name != "Screening" {
		t.Errorf("list = %+v", list)
	}

	code, _ = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/api/statuses/%d", created.ID), nil)
	if code != http.StatusOK {
		t.Fatalf("delete: status %d", code)
	}
	code, env = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/statuses/%d", created.ID), nil)
	if code != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", code)
	}
	if env.Error != "not found" {
		t.Errorf("error = %q, want %q", env.Error, "not found")
	}
}

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)
	status := createStatusT(t, ts, "Inbox")

	task := createTaskT(t, ts, status.ID, "Call applicant")
	if task.StatusID != status.ID || task.Order != 0 {
		t.Errorf("task = %+v", task)
	}

	code, env := doJSON(t, ts, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", task.ID), map[string]bool{"completed": true})
	if code != http.StatusOK {
		t.Fatalf("patch: status %d, error %q", code, env.Error)
	}
	var updated store.Task
	json.Unmarshal(env.Data, &updated)
	if !updated.Completed {
		t.Error("completed = false after patch")
	}

	code, _ = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", task.ID), nil)
	if code != http.StatusOK {
		t.Fatalf("delete: status %d", code)
	}
	code, _ = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/tasks/%d", task.ID), nil)
	if code != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", code)
	}
}

func TestValidationRejectsEmptyNames(t *testing.T) {
	ts := newTestServer(t)
	status := createStatusT(t, ts, "Inbox")

	code, env := doJSON(t, ts, http.MethodPost, "/api/statuses", map[string]string{"name": ""})
	if code != http.StatusUnprocessableEntity {
		t.Errorf("empty status name: status %d, want 422", code)
	}
	if env.Error == "" {
		t.Error("empty status name: no error message")
	}

	code, _ = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/statuses/%d/tasks", status.ID), map[string]string{"title": ""})
	if code != http.StatusUnprocessableEntity {
		t.Errorf("empty task title: status %d, want 422", code)
	}

	name := ""
	code, _ = doJSON(t, ts, http.MethodPatch, fmt.Sprintf("/api/statuses/%d", status.ID), map[string]*string{"name": &name})
	if code != http.StatusUnprocessableEntity {
		t.Errorf("blank status rename: status %d, want 422", code)
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/api/statuses", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReorderTasksEndpoint(t *testing.T) {
	ts := newTestServer(t)
	status := createStatusT(t, ts, "Inbox")
	a := createTaskT(t, ts, status.ID, "a")
	b := createTaskT(t, ts, status.ID, "b")
	c := createTaskT(t, ts, status.ID, "c")

	path := fmt.Sprintf("/api/statuses/%d/tasks/reorder", status.ID)
	code, env := doJSON(t, ts, http.MethodPut, path, map[string][]int64{"order": {c.ID, a.ID, b.ID}})
	if code != http.StatusOK {
		t.Fatalf("reorder: status %d, error %q", code, env.Error)
	}

	code, env = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/statuses/%d/tasks", status.ID), nil)
	if code != http.StatusOK {
		t.Fatalf("list: status %d", code)
	}
	var tasks []store.Task
	json.Unmarshal(env.Data, &tasks)
	want := []int64{c.ID, a.ID, b.ID}
	for i := range want {
		if tasks[i].ID != want[i] {
			t.Fatalf("order = %+v, want ids %v", tasks, want)
		}
	}
}

func TestReorderRejectsMismatchedOrder(t *testing.T) {
	ts := newTestServer(t)
	status := createStatusT(t, ts, "Inbox")
	a := createTaskT(t, ts, status.ID, "a")
	createTaskT(t, ts, status.ID, "b")

	path := fmt.Sprintf("/api/statuses/%d/tasks/reorder", status.ID)
	code, env := doJSON(t, ts, http.MethodPut, path, map[string][]int64{"order": {a.ID, 999}})
	if code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
	if env.Error == "" {
		t.Error("conflict response carried no error message")
	}
}

func TestReorderStatusesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	s1 := createStatusT(t, ts, "Applied")
	s2 := createStatusT(t, ts, "Screening")

	code, env := doJSON(t, ts, http.MethodPut, "/api/statuses/reorder", map[string][]int64{"order": {s2.ID, s1.ID}})
	if code != http.StatusOK {
		t.Fatalf("reorder: status %d, error %q", code, env.Error)
	}

	_, env = doJSON(t, ts, http.MethodGet, "/api/statuses", nil)
	var list []store.Status
	json.Unmarshal(env.Data, &list)
	if list[0].ID != s2.ID || list[1].ID != s1.ID {
		t.Errorf("order = %+v, want [%d %d]", list, s2.ID, s1.ID)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	ts := newTestServer(t, func(cfg *Config) {
		cfg.Metrics = NewMetrics(WithRegistry(reg))
	})

	createStatusT(t, ts, "Applied")

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "leaseline_http_requests_total") {
		t.Error("exposition missing leaseline_http_requests_total")
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestFeedBroadcastsMutations(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/feed"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer ws.Close()

	created := createStatusT(t, ts, "Applied")

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}

	var evt struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != "status.created" {
		t.Errorf("event type = %q, want status.created", evt.Type)
	}
	var st store.Status
	if err := json.Unmarshal(evt.Data, &st); err != nil {
		t.Fatalf("decode event data: %v", err)
	}
	if st.ID != created.ID {
		t.Errorf("event status id = %d, want %d", st.ID, created.ID)
	}
}

// End-to-end: a toggle engine driving the real API, confirmed from the
// server's echoed task.
func TestToggleEngineAgainstServer(t *testing.T) {
	ts := newTestServer(t)
	status := createStatusT(t, ts, "Inbox")
	task := createTaskT(t, ts, status.ID, "Call applicant")

	client := restapi.New(restapi.WithBaseURL(ts.URL))
	tg := optimistic.NewToggle(client, fmt.Sprintf("/api/tasks/%d", task.ID), "completed", task.Completed)
	defer tg.Close()

	if got := tg.Toggle(); !got {
		t.Fatalf("Toggle() = %v, want true", got)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && tg.State() != optimistic.StateConfirmed {
		time.Sleep(2 * time.Millisecond)
	}
	if tg.State() != optimistic.StateConfirmed {
		t.Fatalf("state = %v after waiting, err = %v", tg.State(), tg.Err())
	}

	_, env := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/tasks/%d", task.ID), nil)
	var stored store.Task
	json.Unmarshal(env.Data, &stored)
	if !stored.Completed {
		t.Error("server did not persist the toggle")
	}
}
