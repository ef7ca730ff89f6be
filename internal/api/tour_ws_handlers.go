package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/tour"
)

// Websocket tuning.
const (
	wsSendBuffer   = 64
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = (wsPongWait * 9) / 10
	wsMaxFrameSize = 4 << 10
)

// Client message types.
const (
	MsgSelect            = "select"
	MsgNext              = "next"
	MsgPrevious          = "previous"
	MsgKey               = "key"
	MsgHotspot           = "hotspot"
	MsgClick             = "click"
	MsgToggleMap         = "toggle_map"
	MsgToggleInfo        = "toggle_info"
	MsgCloseModal        = "close_modal"
	MsgToggleFullscreen  = "toggle_fullscreen"
	MsgFullscreenChanged = "fullscreen_changed"
	MsgRetry             = "retry"
	MsgReload            = "reload"
)

// Server message types.
const (
	MsgState   = "state"
	MsgCommand = "command"
	MsgResult  = "result"
	MsgError   = "error"
)

// Host commands sent in command frames.
const (
	CommandRequestFullscreen = "request_fullscreen"
	CommandExitFullscreen    = "exit_fullscreen"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is the payload of client frames. Which fields are read
// depends on the envelope type.
type ClientMessage struct {
	SceneID   string  `json:"scene_id,omitempty"`
	HotspotID string  `json:"hotspot_id,omitempty"`
	Key       string  `json:"key,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Active    bool    `json:"active,omitempty"`
}

// StateFrame is the payload of state frames.
type StateFrame struct {
	Cause tour.Cause `json:"cause"`
	State tour.State `json:"state"`
}

// CommandFrame asks the hosting page to do something only it can do.
type CommandFrame struct {
	Command string `json:"command"`
}

// ResultFrame answers one client frame with the same seq. Rejected is set
// when the request was dropped without side effects.
type ResultFrame struct {
	Outcome  tour.Outcome `json:"outcome,omitempty"`
	Rejected bool         `json:"rejected,omitempty"`
	Effect   *tour.Effect `json:"effect,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// TourSocketOptions configures TourSocketHandlers.
type TourSocketOptions struct {
	Media   tour.MediaResolver
	Metrics *tour.Metrics
	Logger  *slog.Logger
	// CheckOrigin validates the Origin header of upgrade requests.
	CheckOrigin func(origin string) bool
}

// TourSocketHandlers runs one tour session per websocket connection.
type TourSocketHandlers struct {
	source   tour.SceneSource
	opts     TourSocketOptions
	logger   *slog.Logger
	upgrader websocket.Upgrader
	conns    sync.WaitGroup
}

// NewTourSocketHandlers creates the viewer websocket handler.
func NewTourSocketHandlers(source tour.SceneSource, opts TourSocketOptions) *TourSocketHandlers {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	check := opts.CheckOrigin
	if check == nil {
		check = func(origin string) bool { return origin == "" }
	}
	return &TourSocketHandlers{
		source: source,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "http://"+r.Host || origin == "https://"+r.Host {
					return true
				}
				return check(origin)
			},
		},
	}
}

// Wait blocks until every connection handler has returned.
func (h *TourSocketHandlers) Wait() {
	h.conns.Wait()
}

// Serve handles GET /tour/ws.
func (h *TourSocketHandlers) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		h.logger.WarnContext(r.Context(), "failed to upgrade websocket connection", "error", err)
		return
	}
	h.conns.Add(1)
	defer h.conns.Done()

	ctx, cancel := context.WithCancel(r.Context())
	c := &tourConn{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		logger: h.logger.With("request_id", middleware.GetRequestID(r.Context())),
	}
	c.session = tour.NewSession(h.source, tour.Options{
		Media:      h.opts.Media,
		Fullscreen: wsFullscreen{c},
		Logger:     c.logger,
		Metrics:    h.opts.Metrics,
	})

	sub := c.session.Subscribe(func(ev tour.Event) {
		c.push(MsgState, 0, StateFrame{Cause: ev.Cause, State: ev.State})
	})

	go c.writer()
	c.logger.InfoContext(ctx, "tour session opened")

	c.dispatch(ctx, 0, func(ctx context.Context) ResultFrame {
		if err := c.session.Load(ctx); err != nil {
			return ResultFrame{Error: err.Error()}
		}
		return ResultFrame{}
	}, false)

	c.reader(ctx)

	cancel()
	sub.Unsubscribe()
	c.session.Close()
	c.ops.Wait()
	c.shutdown()
	c.logger.InfoContext(ctx, "tour session closed")
}

// tourConn is one viewer connection. Only writer touches the socket for writes.
type tourConn struct {
	conn    *websocket.Conn
	session *tour.Session
	logger  *slog.Logger
	send    chan []byte
	done    chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
	ops     sync.WaitGroup
}

// push queues a frame. A client that cannot keep up is disconnected.
func (c *tourConn) push(typ string, seq int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to encode websocket frame", "type", typ, "error", err)
		return
	}
	frame, err := json.Marshal(Envelope{Type: typ, Seq: seq, Data: data})
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		c.logger.Warn("websocket client too slow, closing connection")
		c.cancel()
		_ = c.conn.Close()
	}
}

func (c *tourConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *tourConn) writer() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *tourConn) reader(ctx context.Context) {
	c.conn.SetReadLimit(wsMaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WarnContext(ctx, "websocket connection closed unexpectedly", "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.push(MsgError, 0, ResultFrame{Error: "malformed frame"})
			continue
		}
		var msg ClientMessage
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				c.push(MsgError, env.Seq, ResultFrame{Error: "malformed payload"})
				continue
			}
		}
		c.handle(ctx, env, msg)
	}
}

// handle routes one client frame. Calls that may block on a fetch or media
// check run on their own goroutine so a second transition arriving while
// one is loading reaches the session and is dropped there, not queued here.
func (c *tourConn) handle(ctx context.Context, env Envelope, msg ClientMessage) {
	outcome := func(o tour.Outcome, err error) ResultFrame {
		res := ResultFrame{Outcome: o, Rejected: o.Rejected()}
		if err != nil {
			res.Error = err.Error()
		}
		return res
	}
	effect := func(e tour.Effect, o tour.Outcome, err error) ResultFrame {
		res := outcome(o, err)
		res.Effect = &e
		return res
	}

	switch env.Type {
	case MsgSelect:
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return outcome(c.session.RequestTransition(ctx, msg.SceneID))
		}, true)
	case MsgNext:
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return outcome(c.session.Next(ctx))
		}, true)
	case MsgPrevious:
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return outcome(c.session.Previous(ctx))
		}, true)
	case MsgKey:
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return outcome(c.session.HandleKey(ctx, msg.Key))
		}, true)
	case MsgHotspot:
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return effect(c.session.ActivateHotspot(ctx, msg.HotspotID))
		}, true)
	case MsgClick:
		pt := geometry.OverlayPoint{X: msg.X, Y: msg.Y}
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return effect(c.session.ActivateAt(ctx, pt))
		}, true)
	case MsgRetry:
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return outcome("", c.session.Retry(ctx))
		}, true)
	case MsgReload:
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return outcome("", c.session.Reload(ctx))
		}, true)
	case MsgToggleFullscreen:
		c.dispatch(ctx, env.Seq, func(ctx context.Context) ResultFrame {
			return outcome("", c.session.ToggleFullscreen(ctx))
		}, true)
	case MsgToggleMap:
		c.session.ToggleMap()
		c.push(MsgResult, env.Seq, ResultFrame{})
	case MsgToggleInfo:
		c.session.ToggleInfo()
		c.push(MsgResult, env.Seq, ResultFrame{})
	case MsgCloseModal:
		c.session.CloseModal()
		c.push(MsgResult, env.Seq, ResultFrame{})
	case MsgFullscreenChanged:
		c.session.FullscreenChanged(msg.Active)
		c.push(MsgResult, env.Seq, ResultFrame{})
	default:
		c.push(MsgError, env.Seq, ResultFrame{Error: "unknown message type: " + env.Type})
	}
}

// dispatch runs op on its own goroutine and, when reply is set, answers
// with a result frame.
func (c *tourConn) dispatch(ctx context.Context, seq int64, op func(context.Context) ResultFrame, reply bool) {
	c.ops.Add(1)
	go func() {
		defer c.ops.Done()
		res := op(ctx)
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		if reply {
			c.push(MsgResult, seq, res)
		}
	}()
}

// wsFullscreen forwards fullscreen requests to the hosting page. The page
// answers with a fullscreen_changed frame once it has actually switched.
type wsFullscreen struct {
	c *tourConn
}

func (f wsFullscreen) RequestFullscreen(context.Context) error {
	f.c.push(MsgCommand, 0, CommandFrame{Command: CommandRequestFullscreen})
	return nil
}

func (f wsFullscreen) ExitFullscreen(context.Context) error {
	f.c.push(MsgCommand, 0, CommandFrame{Command: CommandExitFullscreen})
	return nil
}
