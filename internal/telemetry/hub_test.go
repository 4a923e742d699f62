package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/GoSSB/internal/logging"
)

func newTestHub(limit int) *Hub {
	return NewHub(limit, logging.New(logging.Debug, logging.Text, io.Discard))
}

func stateEvent(state string) Event {
	return Event{Time: time.Unix(100, 0).UTC(), RunID: "run-1", Kind: KindState, State: state}
}

func TestHubHistoryLimit(t *testing.T) {
	hub := newTestHub(3)
	for _, s := range []string{"Idle", "DeviceInit", "EngineInit", "Scanning", "Found"} {
		hub.Report(stateEvent(s))
	}
	hist := hub.History()
	if len(hist) != 3 {
		t.Fatalf("expected 3 events, got %d", len(hist))
	}
	if hist[0].State != "EngineInit" || hist[2].State != "Found" {
		t.Fatalf("unexpected history order %+v", hist)
	}
	st := hub.Status()
	if st.State != "Found" || st.Events != 5 || st.RunID != "run-1" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestHubStatusKeepsLatestSummaries(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(Event{RunID: "r", Kind: KindDetection, Detection: &DetectionSummary{PCI: 7}})
	hub.Report(stateEvent("Transmitting"))
	hub.Report(Event{RunID: "r", Kind: KindTransmit, Transmit: &TransmitSummary{Bursts: 3}})

	st := hub.Status()
	if st.Detection == nil || st.Detection.PCI != 7 {
		t.Fatalf("detection lost: %+v", st.Detection)
	}
	if st.Transmit == nil || st.Transmit.Bursts != 3 || st.State != "Transmitting" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	hub := newTestHub(10)
	ch, cancel := hub.Subscribe()
	hub.Report(stateEvent("Scanning"))
	if ev := <-ch; ev.State != "Scanning" {
		t.Fatalf("unexpected event %+v", ev)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	hub.Report(stateEvent("Found"))
}

func TestHandleHistory(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(stateEvent("Scanning"))

	rr := httptest.NewRecorder()
	hub.handleHistory(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got []Event
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].State != "Scanning" || got[0].Kind != KindState {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	hub := newTestHub(10)
	rr := httptest.NewRecorder()
	hub.handleStatus(rr, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleLiveStreamsHistoryAndUpdates(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(stateEvent("Scanning"))

	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/live", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() Event {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var ev Event
				if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
					t.Fatalf("decode event: %v", err)
				}
				return ev
			}
		}
	}
	if ev := next(); ev.State != "Scanning" {
		t.Fatalf("expected history first, got %+v", ev)
	}
	hub.Report(stateEvent("Found"))
	if ev := next(); ev.State != "Found" {
		t.Fatalf("expected live event, got %+v", ev)
	}
}

func TestHandleWebSocket(t *testing.T) {
	hub := newTestHub(10)
	hub.Report(stateEvent("Scanning"))

	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev Event
	if err := conn.ReadJSON(&ev); err != nil || ev.State != "Scanning" {
		t.Fatalf("history frame: %+v err=%v", ev, err)
	}
	hub.Report(Event{RunID: "run-1", Kind: KindDetection, Detection: &DetectionSummary{PCI: 99}})
	if err := conn.ReadJSON(&ev); err != nil || ev.Detection == nil || ev.Detection.PCI != 99 {
		t.Fatalf("live frame: %+v err=%v", ev, err)
	}
}

func TestStdoutReporterLogsEvent(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Debug, logging.Text, &buf))
	MultiReporter{r, nil}.Report(Event{RunID: "abc", Kind: KindTransmit, Transmit: &TransmitSummary{Bursts: 12}})
	out := buf.String()
	if !strings.Contains(out, "run_id=abc") || !strings.Contains(out, "bursts=12") {
		t.Fatalf("unexpected log output %q", out)
	}
}
