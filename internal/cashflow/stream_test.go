package cashflow

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"kasa-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data map[string]any
}

// serve runs the app on a loopback listener; app.Test cannot read an
// endless stream.
func (e *env) serve(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.app.Listener(ln) }()
	t.Cleanup(func() { _ = e.app.ShutdownWithTimeout(2 * time.Second) })
	return "http://" + ln.Addr().String()
}

// openStream connects who to the session stream and returns its events.
func openStream(t *testing.T, base string, who caller, query string) <-chan sseEvent {
	t.Helper()
	req, err := http.NewRequest("GET", base+"/api/cash-sessions/stream"+query, nil)
	require.NoError(t, err)
	tok, err := auth.GenerateToken(secret, &who.user)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set(auth.DeviceHeader, who.device)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	t.Cleanup(func() { resp.Body.Close() })

	events := make(chan sseEvent, 32)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		var cur sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				cur.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				_ = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data)
			case line == "" && cur.name != "":
				events <- cur
				cur = sseEvent{}
			}
		}
	}()
	return events
}

func next(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended before %q", name)
			if ev.name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event", name)
			return sseEvent{}
		}
	}
}

func TestStream_ViewIsBlindForCashiers(t *testing.T) {
	e := newEnv(t)
	cashier := cashierCaller(1, "till-1")
	_, opened := e.doJSON(t, cashier, "POST", "/api/cash-sessions", map[string]any{"opening_cash": "300"})
	id := sessionID(t, opened)
	base := e.serve(t)

	view := next(t, openStream(t, base, cashier, ""), "view")
	require.NotNil(t, view.data["session"])
	assert.Equal(t, id, view.data["session"].(map[string]any)["id"])
	assert.NotContains(t, view.data, "expected_cash")
	assert.NotContains(t, view.data, "cash_sales")
	assert.NotContains(t, view.data, "non_cash_total")

	view = next(t, openStream(t, base, admin, "?cashier_id=1"), "view")
	assert.Equal(t, "300", view.data["expected_cash"])
	assert.Equal(t, "0", view.data["cash_sales"])
}

func TestStream_ReportsCloseFromAnotherDevice(t *testing.T) {
	e := newEnv(t)
	till1 := cashierCaller(1, "till-1")
	_, opened := e.doJSON(t, till1, "POST", "/api/cash-sessions", map[string]any{"opening_cash": "100"})
	id := sessionID(t, opened)
	base := e.serve(t)

	events := openStream(t, base, till1, "")
	next(t, events, "view")

	code, _ := e.doJSON(t, cashierCaller(1, "till-2"), "POST", "/api/cash-sessions/"+id+"/close", map[string]any{"counted_cash": "100"})
	require.Equal(t, fiber.StatusOK, code)

	ev := next(t, events, "closed_elsewhere")
	assert.Equal(t, id, ev.data["id"])
	assert.Equal(t, "till-2", ev.data["closed_from"])
	assert.NotContains(t, ev.data, "difference")

	view := next(t, events, "view")
	assert.Nil(t, view.data["session"])
}
