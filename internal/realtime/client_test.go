package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/web2labs/studio-gateway/internal/json"
	"github.com/web2labs/studio-gateway/internal/studio"
)

type fakeAPI struct {
	token       string
	tokenErr    error
	status      *studio.ProjectStatus
	statusCalls atomic.Int32
}

func (f *fakeAPI) GetSocketToken(ctx context.Context) (*studio.SocketToken, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &studio.SocketToken{Token: f.token}, nil
}

func (f *fakeAPI) GetProjectStatus(ctx context.Context, projectID string) (*studio.ProjectStatus, error) {
	f.statusCalls.Add(1)
	return f.status, nil
}

// socketServer upgrades incoming connections and hands them to script.
func socketServer(t *testing.T, script func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		script(conn, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Errorf("marshal payload: %v", err)
		return
	}
	if err := conn.WriteJSON(Event{Event: event, Payload: raw}); err != nil {
		t.Errorf("write event: %v", err)
	}
}

func TestConnectVerifiesToken(t *testing.T) {
	var gotToken string
	server := socketServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotToken = r.URL.Query().Get("token")
		send(t, conn, EventVerificationSuccess, map[string]any{})
		time.Sleep(100 * time.Millisecond)
	})

	client := NewClient(&fakeAPI{token: "tok-1"}, Options{SocketURL: server.URL})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if gotToken != "tok-1" {
		t.Errorf("expected one-time token on upgrade, got %q", gotToken)
	}
}

func TestConnectSendsEncodedBasicAuth(t *testing.T) {
	var gotAuth string
	server := socketServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		send(t, conn, EventVerificationSuccess, map[string]any{})
		time.Sleep(100 * time.Millisecond)
	})

	// Wired the way main does it: the raw pair never hits the wire.
	client := NewClient(&fakeAPI{token: "tok"}, Options{
		SocketURL:       server.URL,
		BasicAuthHeader: studio.NewAuthContext("", "", "user:pass").BasicAuthHeader(),
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if gotAuth != "Basic dXNlcjpwYXNz" {
		t.Errorf("Authorization header = %q", gotAuth)
	}
}

func TestConnectRejectsVerificationError(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn, r *http.Request) {
		send(t, conn, EventVerificationError, map[string]any{"message": "token expired"})
		time.Sleep(100 * time.Millisecond)
	})

	client := NewClient(&fakeAPI{token: "tok-1"}, Options{SocketURL: server.URL})
	err := client.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "token expired") {
		t.Fatalf("expected verification rejection, got %v", err)
	}
}

func TestSocketEndpointDerivation(t *testing.T) {
	tests := []struct {
		opts Options
		want string
	}{
		{Options{SocketURL: "https://api.example.com/socket"}, "wss://api.example.com/socket"},
		{Options{SocketURL: "ws://api.example.com/socket"}, "ws://api.example.com/socket"},
		{Options{BaseURL: "https://api.example.com/"}, "wss://api.example.com/socket"},
		{Options{BaseURL: "http://localhost:8317"}, "ws://localhost:8317/socket"},
	}
	for _, tt := range tests {
		client := NewClient(&fakeAPI{}, tt.opts)
		got, err := client.socketEndpoint()
		if err != nil {
			t.Errorf("socketEndpoint(%+v) failed: %v", tt.opts, err)
			continue
		}
		if got != tt.want {
			t.Errorf("socketEndpoint(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

func TestWaitForCompletionResolvesByRefetch(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn, r *http.Request) {
		send(t, conn, EventVerificationSuccess, map[string]any{})
		// Progress frames carry no status field on the wire.
		send(t, conn, EventRenderProgress, map[string]any{
			"projectId": "p1", "progress": 40,
		})
		// Pushed payloads claim failure, but HTTP owns the truth.
		send(t, conn, EventRenderEnd, map[string]any{
			"projectId": "p1", "status": "failed",
		})
		time.Sleep(200 * time.Millisecond)
	})

	api := &fakeAPI{
		token:  "tok",
		status: &studio.ProjectStatus{Status: "completed", ResultsURL: "https://dl/x"},
	}
	client := NewClient(api, Options{SocketURL: server.URL})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	var progressStatuses []string
	var progressValues []float64
	status, err := client.WaitForCompletion(context.Background(), "p1", 5*time.Second,
		func(s string, p *float64) {
			progressStatuses = append(progressStatuses, s)
			if p != nil {
				progressValues = append(progressValues, *p)
			}
		})
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if status.Status != "completed" {
		t.Errorf("terminal status must come from the HTTP re-fetch, got %q", status.Status)
	}
	if api.statusCalls.Load() != 1 {
		t.Errorf("expected one confirming status fetch, got %d", api.statusCalls.Load())
	}
	if len(progressStatuses) != 1 || progressStatuses[0] != "rendering" {
		t.Errorf("progress frames must report as rendering, got %v", progressStatuses)
	}
	if len(progressValues) != 1 || progressValues[0] != 40 {
		t.Errorf("unexpected progress values %v", progressValues)
	}
}

func TestNonTerminalCoreUpdateReportsProgress(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn, r *http.Request) {
		send(t, conn, EventVerificationSuccess, map[string]any{})
		send(t, conn, EventProjectUpdated, map[string]any{
			"projectId": "p1", "status": "editing", "progress": 10,
		})
		send(t, conn, EventRenderEnd, map[string]any{"projectId": "p1"})
		time.Sleep(200 * time.Millisecond)
	})

	api := &fakeAPI{token: "tok", status: &studio.ProjectStatus{Status: "completed"}}
	client := NewClient(api, Options{SocketURL: server.URL})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	var statuses []string
	if _, err := client.WaitForCompletion(context.Background(), "p1", 5*time.Second,
		func(s string, _ *float64) { statuses = append(statuses, s) }); err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if len(statuses) != 1 || statuses[0] != "editing" {
		t.Errorf("core update should surface as progress, got %v", statuses)
	}
	// The non-terminal update must not trigger a confirming fetch.
	if api.statusCalls.Load() != 1 {
		t.Errorf("expected one status fetch, got %d", api.statusCalls.Load())
	}
}

func TestWaitForCompletionSkipsOtherProjects(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn, r *http.Request) {
		send(t, conn, EventVerificationSuccess, map[string]any{})
		send(t, conn, EventRenderEnd, map[string]any{"projectId": "other"})
		send(t, conn, EventRenderEnd, map[string]any{"projectId": "mine"})
		time.Sleep(200 * time.Millisecond)
	})

	api := &fakeAPI{token: "tok", status: &studio.ProjectStatus{Status: "completed"}}
	client := NewClient(api, Options{SocketURL: server.URL})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if _, err := client.WaitForCompletion(context.Background(), "mine", 5*time.Second, nil); err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if api.statusCalls.Load() != 1 {
		t.Errorf("foreign-project events must not trigger fetches; got %d", api.statusCalls.Load())
	}
}

func TestWaitForCompletionSignalsDisconnect(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn, r *http.Request) {
		send(t, conn, EventVerificationSuccess, map[string]any{})
		// Server hangs up without a terminal event.
	})

	client := NewClient(&fakeAPI{token: "tok"}, Options{SocketURL: server.URL})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	_, err := client.WaitForCompletion(context.Background(), "p1", 5*time.Second, nil)
	if err != ErrDisconnected {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	server := socketServer(t, func(conn *websocket.Conn, r *http.Request) {
		send(t, conn, EventVerificationSuccess, map[string]any{})
		time.Sleep(100 * time.Millisecond)
	})

	client := NewClient(&fakeAPI{token: "tok"}, Options{SocketURL: server.URL})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Disconnect()
	client.Disconnect()

	// Disconnect before Connect is a no-op too.
	fresh := NewClient(&fakeAPI{}, Options{SocketURL: server.URL})
	fresh.Disconnect()
}
