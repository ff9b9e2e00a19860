package optimistic

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leaseline-dev/leaseline/pkg/restapi"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// echoServer responds {"data": <request body>} and counts requests.
func echoServer(t *testing.T) (*httptest.Server, *atomic.Int64, *sync.Map) {
	t.Helper()
	var count atomic.Int64
	var bodies sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := count.Add(1)
		body, _ := io.ReadAll(r.Body)
		bodies.Store(n, string(body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":%s}`, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &count, &bodies
}

func TestUpdateAppliesLocallyBeforeNetwork(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, `{"data":%s}`, body)
	}))
	defer srv.Close()
	defer close(release)

	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/units/3", "vacant")

	e.Update("occupied")
	if got := e.Value(); got != "occupied" {
		t.Errorf("Value() = %q immediately after Update, want %q", got, "occupied")
	}
	if got := e.Confirmed(); got != "vacant" {
		t.Errorf("Confirmed() = %q before settlement, want %q", got, "vacant")
	}
}

func TestLastWriteWins(t *testing.T) {
	firstArrived := make(chan struct{})
	releaseFirst := make(chan struct{})
	var count atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := count.Add(1)
		body, _ := io.ReadAll(r.Body)
		if n == 1 {
			close(firstArrived)
			<-releaseFirst
		}
		fmt.Fprintf(w, `{"data":%s}`, body)
	}))
	defer srv.Close()

	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/people/9", "a")

	e.Update("a2")
	<-firstArrived
	e.Update("b")

	waitFor(t, func() bool { return e.Confirmed() == "b" }, "second update to confirm")

	// Let the superseded first call finish; its resolution must be ignored.
	close(releaseFirst)
	time.Sleep(50 * time.Millisecond)

	if got := e.Value(); got != "b" {
		t.Errorf("Value() = %q, want %q", got, "b")
	}
	if got := e.Confirmed(); got != "b" {
		t.Errorf("Confirmed() = %q, want %q", got, "b")
	}
	if err := e.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestRollbackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var errCount atomic.Int64
	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/properties/1", "X",
		OnError[string](func(error) { errCount.Add(1) }),
	)

	e.Update("y")
	waitFor(t, func() bool { return e.Err() != nil }, "failure to settle")

	if got := e.Value(); got != "X" {
		t.Errorf("Value() = %q after rollback, want %q", got, "X")
	}
	if got := e.State(); got != StateRolledBack {
		t.Errorf("State() = %v, want %v", got, StateRolledBack)
	}
	if n := errCount.Load(); n != 1 {
		t.Errorf("error callback fired %d times, want 1", n)
	}
}

func TestServerReformattingIsAuthoritative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":"(555) 123-4567"}`))
	}))
	defer srv.Close()

	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/people/4", "")

	e.Update("5551234567")
	waitFor(t, func() bool { return e.State() == StateConfirmed }, "confirmation")

	if got := e.Value(); got != "(555) 123-4567" {
		t.Errorf("Value() = %q, want the server-formatted value", got)
	}
	if got := e.Confirmed(); got != "(555) 123-4567" {
		t.Errorf("Confirmed() = %q, want the server-formatted value", got)
	}
}

func TestDebounceCollapsesBursts(t *testing.T) {
	srv, count, bodies := echoServer(t)

	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/tasks/2", "v0",
		WithDebounce[string](60*time.Millisecond),
	)

	for i := 1; i <= 5; i++ {
		e.Update(fmt.Sprintf("v%d", i))
	}

	waitFor(t, func() bool { return count.Load() == 1 && e.State() == StateConfirmed }, "single collapsed request")
	time.Sleep(100 * time.Millisecond)

	if n := count.Load(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
	if body, _ := bodies.Load(int64(1)); body != `"v5"` {
		t.Errorf("request body = %v, want %q", body, `"v5"`)
	}
}

func TestResetRestoresConfirmedAndAbandonsInFlight(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		w.Write([]byte(`{"data":"from-server"}`))
	}))
	defer srv.Close()

	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/tasks/5", "X")

	e.Update("y")
	<-arrived
	e.Reset()

	if got := e.Value(); got != "X" {
		t.Errorf("Value() = %q after Reset, want %q", got, "X")
	}
	if e.InFlight() {
		t.Error("InFlight() = true after Reset")
	}

	close(release)
	time.Sleep(50 * time.Millisecond)

	if got := e.Value(); got != "X" {
		t.Errorf("Value() = %q after abandoned call settled, want %q", got, "X")
	}
	if err := e.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestRebaseDiscardsPendingEdit(t *testing.T) {
	srv, count, _ := echoServer(t)

	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/tasks/6", "old",
		WithDebounce[string](40*time.Millisecond),
	)

	e.Update("local edit")
	e.Rebase("fresh from server")

	time.Sleep(120 * time.Millisecond)

	if n := count.Load(); n != 0 {
		t.Errorf("requests = %d, want 0 after Rebase cancelled the pending edit", n)
	}
	if got := e.Value(); got != "fresh from server" {
		t.Errorf("Value() = %q, want the rebased value", got)
	}
	if got := e.Confirmed(); got != "fresh from server" {
		t.Errorf("Confirmed() = %q, want the rebased value", got)
	}
}

func TestWithFieldShapesPayloadAndConfirmation(t *testing.T) {
	var mu sync.Mutex
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = string(body)
		mu.Unlock()
		w.Write([]byte(`{"data":{"id":4,"notes":"tidied up"}}`))
	}))
	defer srv.Close()

	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/tasks/4", "",
		WithField[string]("notes"),
	)

	e.Update("tidy")
	waitFor(t, func() bool { return e.State() == StateConfirmed }, "confirmation")

	mu.Lock()
	if gotBody != `{"notes":"tidy"}` {
		t.Errorf("request body = %q, want %q", gotBody, `{"notes":"tidy"}`)
	}
	mu.Unlock()
	if got := e.Value(); got != "tidied up" {
		t.Errorf("Value() = %q, want the field from the response", got)
	}
}

func TestNoOpSuppressionWithEquals(t *testing.T) {
	srv, count, _ := echoServer(t)

	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/tasks/8", "same",
		WithEquals[string](func(a, b string) bool { return a == b }),
	)

	e.Update("same")
	time.Sleep(50 * time.Millisecond)

	if n := count.Load(); n != 0 {
		t.Errorf("requests = %d, want 0 for a no-op update", n)
	}
}

func TestCloseBlocksLateSettlement(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	var errCount atomic.Int64
	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/tasks/9", "X",
		OnError[string](func(error) { errCount.Add(1) }),
	)

	e.Update("y")
	<-arrived
	e.Close()
	close(release)
	time.Sleep(50 * time.Millisecond)

	if n := errCount.Load(); n != 0 {
		t.Errorf("error callback fired %d times after Close, want 0", n)
	}

	// Updates after Close are ignored.
	e.Update("z")
	time.Sleep(20 * time.Millisecond)
	if got := e.Value(); got == "z" {
		t.Error("Update applied after Close")
	}
}

func TestOnChangeSeesRollback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var seen []string
	e := NewUpdate(restapi.New(restapi.WithBaseURL(srv.URL)), "/api/tasks/3", "X",
		OnChange[string](func(v string) {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		}),
	)

	e.Update("y")
	waitFor(t, func() bool { return e.Err() != nil }, "failure to settle")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[0] != "y" || seen[len(seen)-1] != "X" {
		t.Errorf("onChange sequence = %v, want optimistic apply then rollback", seen)
	}
}
