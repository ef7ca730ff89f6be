package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/panotour/internal/media"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/tour"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialTour(t *testing.T, srv *httptest.Server, header http.Header) (*wsClient, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tour/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, resp, err
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}, resp, nil
}

func (c *wsClient) send(typ string, seq int64, payload any) {
	c.t.Helper()
	env := Envelope{Type: typ, Seq: seq}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatal(err)
		}
		env.Data = data
	}
	if err := c.conn.WriteJSON(env); err != nil {
		c.t.Fatalf("write %s: %v", typ, err)
	}
}

// until reads frames until match returns true, failing after a deadline.
func (c *wsClient) until(what string, match func(Envelope) bool) Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(env) {
			return env
		}
	}
}

func (c *wsClient) result(seq int64) ResultFrame {
	c.t.Helper()
	env := c.until("result", func(e Envelope) bool {
		return (e.Type == MsgResult || e.Type == MsgError) && e.Seq == seq
	})
	var res ResultFrame
	if err := json.Unmarshal(env.Data, &res); err != nil {
		c.t.Fatal(err)
	}
	return res
}

func (c *wsClient) state(match func(tour.State) bool) tour.State {
	c.t.Helper()
	var st StateFrame
	c.until("state", func(e Envelope) bool {
		if e.Type != MsgState {
			return false
		}
		if err := json.Unmarshal(e.Data, &st); err != nil {
			c.t.Fatal(err)
		}
		return match(st.State)
	})
	return st.State
}

func newTourSocketServer(t *testing.T) (*httptest.Server, *TourSocketHandlers) {
	t.Helper()
	repo := scene.NewInMemoryRepository()
	store := media.NewMemoryStore(testMediaBase)
	seedTour(t, repo, store)

	h := NewTourSocketHandlers(repo, TourSocketOptions{Media: store, Logger: quietLogger()})
	srv := httptest.NewServer(NewRouter(Routes{Socket: h}))
	t.Cleanup(srv.Close)
	return srv, h
}

func TestTourSocket_Session(t *testing.T) {
	srv, _ := newTourSocketServer(t)
	c, _, err := dialTour(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	c.state(func(s tour.State) bool { return s.LoadState == tour.LoadReady && s.CurrentSceneID == "gate" })

	// State frames for a change are pushed before the result frame that
	// answers the request.
	c.send(MsgNext, 1, nil)
	c.state(func(s tour.State) bool { return s.CurrentSceneID == "court" && s.LoadState == tour.LoadReady })
	if res := c.result(1); res.Outcome != tour.OutcomeTransitioned || res.Rejected || res.Error != "" {
		t.Errorf("next = %+v", res)
	}

	c.send(MsgHotspot, 2, ClientMessage{HotspotID: "plaque"})
	res := c.result(2)
	if res.Outcome != tour.OutcomeInfoShown || res.Effect == nil || res.Effect.Kind != tour.EffectShowInfo {
		t.Errorf("hotspot = %+v", res)
	}

	c.send(MsgSelect, 3, ClientMessage{SceneID: "court"})
	if res := c.result(3); res.Outcome != tour.OutcomeSameScene || !res.Rejected {
		t.Errorf("select current scene = %+v", res)
	}

	c.send(MsgToggleMap, 4, nil)
	c.state(func(s tour.State) bool { return s.ViewMode.MapVisible })
	c.result(4)

	c.send(MsgToggleFullscreen, 5, nil)
	cmd := c.until("command", func(e Envelope) bool { return e.Type == MsgCommand })
	var frame CommandFrame
	_ = json.Unmarshal(cmd.Data, &frame)
	if frame.Command != CommandRequestFullscreen {
		t.Errorf("command = %q", frame.Command)
	}
	c.send(MsgFullscreenChanged, 6, ClientMessage{Active: true})
	c.state(func(s tour.State) bool { return s.ViewMode.Fullscreen })

	c.send("teleport", 7, nil)
	if res := c.result(7); !strings.Contains(res.Error, "unknown message type") {
		t.Errorf("unknown type = %+v", res)
	}
}

func TestTourSocket_RejectsForeignOrigin(t *testing.T) {
	srv, _ := newTourSocketServer(t)
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := dialTour(t, srv, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %+v", resp)
	}
}

func TestTourSocket_WaitReturnsAfterDisconnect(t *testing.T) {
	srv, h := newTourSocketServer(t)
	c, _, err := dialTour(t, srv, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.state(func(s tour.State) bool { return s.LoadState == tour.LoadReady })
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()

	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection handler did not return")
	}
}
