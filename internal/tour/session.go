package tour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/scene"
)

// SceneSource supplies the published scene list in ascending creation order.
type SceneSource interface {
	ListPublished(ctx context.Context) ([]scene.Scene, error)
}

// MediaResolver confirms that a panorama reference resolves. It performs an
// existence check only; decoding is the renderer's concern.
type MediaResolver interface {
	Exists(ctx context.Context, url string) error
}

// Fullscreen is the hosting environment's fullscreen control. The session's
// fullscreen flag follows FullscreenChanged notifications, never the result
// of these calls, since the host can leave fullscreen on its own.
type Fullscreen interface {
	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
}

// Options configures a Session. Every field is optional.
type Options struct {
	Media      MediaResolver
	Fullscreen Fullscreen
	Logger     *slog.Logger
	Metrics    *Metrics
	HitRadius  float64
}

type retryOp int

const (
	retryLoad retryOp = iota
	retryReload
	retryMedia
)

// Session is the runtime state of one viewer. All methods are safe for
// concurrent use; state changes are serialized and boundary calls (scene
// fetch, media check, fullscreen) run without holding the lock. A
// transition requested while another is loading is dropped, not queued.
type Session struct {
	source    SceneSource
	media     MediaResolver
	screen    Fullscreen
	logger    *slog.Logger
	metrics   *Metrics
	hitRadius float64
	events    emitter

	mu     sync.Mutex
	graph  *scene.Graph
	state  State
	loads  slot
	retry  retryOp
	closed bool
}

// NewSession creates an idle session. Call Load to enter the tour.
func NewSession(source SceneSource, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	radius := opts.HitRadius
	if radius <= 0 {
		radius = DefaultHitRadius
	}
	s := &Session{
		source:    source,
		media:     opts.Media,
		screen:    opts.Fullscreen,
		logger:    logger,
		metrics:   opts.Metrics,
		hitRadius: radius,
		state:     State{LoadState: LoadIdle},
	}
	s.metrics.sessionOpened()
	return s
}

// Subscribe registers fn to receive every state change, in version order.
// A change is delivered before the call that made it returns. fn may read
// State but must not call methods that change the session.
func (s *Session) Subscribe(fn func(Event)) Subscription {
	return s.events.subscribe(fn)
}

// State returns a snapshot of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Graph returns the session's graph snapshot, or nil before the first load.
func (s *Session) Graph() *scene.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// CurrentScene returns the scene the viewer is on.
func (s *Session) CurrentScene() (scene.Scene, bool) {
	s.mu.Lock()
	g, id := s.graph, s.state.CurrentSceneID
	s.mu.Unlock()
	if g == nil {
		return scene.Scene{}, false
	}
	return g.Scene(id)
}

// Close ends the session and abandons any in-flight request.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.loads.abandon()
	s.mu.Unlock()
	s.metrics.sessionClosed()
}

// Load fetches the published scenes, builds the graph and enters the entry
// scene. A fetch failure or an empty tour leaves the session in LoadError.
func (s *Session) Load(ctx context.Context) error {
	return s.fetch(ctx, false)
}

// Reload re-fetches the published scenes to observe admin changes, staying on
// the current scene when it still exists.
func (s *Session) Reload(ctx context.Context) error {
	return s.fetch(ctx, true)
}

// Retry repeats the operation that put the session in LoadError.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state.LoadState != LoadError {
		s.mu.Unlock()
		return ErrNotRetryable
	}
	op := s.retry
	s.mu.Unlock()

	switch op {
	case retryReload:
		return s.fetch(ctx, true)
	case retryMedia:
		return s.recheck(ctx)
	default:
		return s.fetch(ctx, false)
	}
}

func (s *Session) fetch(ctx context.Context, keepCurrent bool) error {
	op := retryLoad
	if keepCurrent {
		op = retryReload
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	fctx, gen := s.loads.begin(ctx)
	s.state.LoadState = LoadLoading
	s.state.Error = ""
	seq := s.changed(CauseLoad)
	s.mu.Unlock()
	s.events.flush(seq)

	list, err := s.source.ListPublished(fctx)
	if err != nil {
		return s.fail(ctx, gen, op, fmt.Errorf("%w: %w", ErrLoadFailed, err))
	}

	g, warnings := scene.BuildGraph(scene.FilterPublished(list))
	s.logWarnings(ctx, warnings)
	if g.Len() == 0 {
		return s.fail(ctx, gen, op, ErrNoScenes)
	}

	s.mu.Lock()
	if !s.loads.current(gen) {
		s.mu.Unlock()
		return ErrSuperseded
	}
	target, _ := g.Entry()
	if keepCurrent {
		if cur, ok := g.Scene(s.state.CurrentSceneID); ok {
			target = cur
		}
	}
	if target.ID != s.state.CurrentSceneID {
		s.state.ViewMode.InfoVisible = false
		s.state.ActiveHotspotModal = ""
	} else if modal := s.state.ActiveHotspotModal; modal != "" {
		if h, ok := g.Hotspot(modal); !ok || h.SceneID != target.ID {
			s.state.ActiveHotspotModal = ""
		}
	}
	s.graph = g
	s.state.CurrentSceneID = target.ID
	seq = s.changed(CauseLoad)
	s.mu.Unlock()
	s.events.flush(seq)

	s.logger.DebugContext(ctx, "tour loaded",
		slog.Int("scenes", g.Len()),
		slog.Int("warnings", len(warnings)),
		slog.String("scene_id", target.ID))

	return s.confirm(ctx, fctx, gen, target)
}

// recheck re-confirms the current scene's media after a media failure.
func (s *Session) recheck(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var (
		sc scene.Scene
		ok bool
	)
	if s.graph != nil {
		sc, ok = s.graph.Scene(s.state.CurrentSceneID)
	}
	if !ok {
		s.mu.Unlock()
		return s.fetch(ctx, false)
	}
	cctx, gen := s.loads.begin(ctx)
	s.state.LoadState = LoadLoading
	s.state.Error = ""
	seq := s.changed(CauseLoad)
	s.mu.Unlock()
	s.events.flush(seq)

	return s.confirm(ctx, cctx, gen, sc)
}

// confirm checks sc's media and settles the slot in ready or error.
func (s *Session) confirm(ctx, slotCtx context.Context, gen uint64, sc scene.Scene) error {
	err := s.checkMedia(slotCtx, sc)

	s.mu.Lock()
	if !s.loads.current(gen) {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.loads.finish(gen)
	if err != nil {
		s.state.LoadState = LoadError
		s.state.Error = err.Error()
		s.retry = retryMedia
		seq := s.changed(CauseError)
		s.mu.Unlock()
		s.events.flush(seq)
		s.logger.WarnContext(ctx, "scene media check failed",
			slog.String("scene_id", sc.ID),
			slog.String("error", err.Error()))
		return err
	}
	s.state.LoadState = LoadReady
	seq := s.changed(CauseLoad)
	s.mu.Unlock()
	s.events.flush(seq)
	return nil
}

func (s *Session) fail(ctx context.Context, gen uint64, op retryOp, err error) error {
	s.mu.Lock()
	if !s.loads.current(gen) {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.loads.finish(gen)
	s.state.LoadState = LoadError
	s.state.Error = err.Error()
	s.retry = op
	seq := s.changed(CauseError)
	s.mu.Unlock()
	s.events.flush(seq)

	s.logger.WarnContext(ctx, "tour load failed", slog.String("error", err.Error()))
	return err
}

func (s *Session) checkMedia(ctx context.Context, sc scene.Scene) error {
	if sc.MediaURL == "" {
		err := fmt.Errorf("%w: scene %s has no media", ErrMediaUnavailable, sc.ID)
		s.metrics.observeMediaCheck(err)
		return err
	}
	if s.media == nil {
		return nil
	}
	err := s.media.Exists(ctx, sc.MediaURL)
	s.metrics.observeMediaCheck(err)
	if err != nil {
		return fmt.Errorf("%w: scene %s: %v", ErrMediaUnavailable, sc.ID, err)
	}
	return nil
}

func (s *Session) logWarnings(ctx context.Context, warnings []scene.Warning) {
	if len(warnings) == 0 {
		return
	}
	kinds := make(map[string]int)
	for _, w := range warnings {
		kinds[string(w.Kind)]++
		s.logger.WarnContext(ctx, "scene graph integrity warning",
			slog.String("kind", string(w.Kind)),
			slog.String("scene_id", w.SceneID),
			slog.String("hotspot_id", w.HotspotID),
			slog.String("detail", w.Message))
	}
	s.metrics.observeWarnings(kinds)
}

// RequestTransition moves the viewer to target. Same-scene, unresolvable and
// in-flight requests are rejected silently through the returned Outcome; the
// error is non-nil only when the new scene's media cannot be confirmed.
func (s *Session) RequestTransition(ctx context.Context, target string) (Outcome, error) {
	s.mu.Lock()
	sc, outcome := s.admit(target)
	if outcome != "" {
		s.mu.Unlock()
		s.reject(ctx, target, outcome)
		return outcome, nil
	}
	tctx, gen := s.loads.begin(ctx)
	s.state.LoadState = LoadLoading
	s.state.ActiveHotspotModal = ""
	s.state.ViewMode.InfoVisible = false
	s.state.CurrentSceneID = sc.ID
	seq := s.changed(CauseTransition)
	s.mu.Unlock()
	s.events.flush(seq)

	err := s.confirm(ctx, tctx, gen, sc)
	switch {
	case errors.Is(err, ErrSuperseded):
		outcome, err = OutcomeSuperseded, nil
	case err != nil:
		outcome = OutcomeFailed
	default:
		outcome = OutcomeTransitioned
	}
	s.metrics.observeTransition(outcome)
	return outcome, err
}

// admit decides whether a transition may start. Callers hold the lock.
func (s *Session) admit(target string) (scene.Scene, Outcome) {
	switch {
	case s.closed:
		return scene.Scene{}, OutcomeNotReady
	case s.state.LoadState == LoadLoading:
		return scene.Scene{}, OutcomeInFlight
	case s.state.LoadState != LoadReady || s.graph == nil:
		return scene.Scene{}, OutcomeNotReady
	case target == s.state.CurrentSceneID:
		return scene.Scene{}, OutcomeSameScene
	}
	sc, ok := s.graph.Scene(target)
	if !ok {
		return scene.Scene{}, OutcomeUnresolved
	}
	return sc, ""
}

func (s *Session) reject(ctx context.Context, target string, outcome Outcome) {
	s.metrics.observeTransition(outcome)
	if outcome == OutcomeUnresolved {
		s.logger.WarnContext(ctx, "transition target does not resolve", slog.String("target_scene_id", target))
		return
	}
	s.logger.DebugContext(ctx, "transition dropped",
		slog.String("target_scene_id", target),
		slog.String("outcome", string(outcome)))
}

// Next moves along the sequential chain. A no-op at the end of the chain.
func (s *Session) Next(ctx context.Context) (Outcome, error) {
	return s.sequential(ctx, (*scene.Graph).NextOf)
}

// Previous moves back along the sequential chain. A no-op at its start.
func (s *Session) Previous(ctx context.Context) (Outcome, error) {
	return s.sequential(ctx, (*scene.Graph).PreviousOf)
}

func (s *Session) sequential(ctx context.Context, step func(*scene.Graph, string) (scene.Scene, bool)) (Outcome, error) {
	s.mu.Lock()
	g, cur, loading := s.graph, s.state.CurrentSceneID, s.state.LoadState == LoadLoading
	s.mu.Unlock()

	if loading {
		s.reject(ctx, "", OutcomeInFlight)
		return OutcomeInFlight, nil
	}
	if g == nil {
		s.reject(ctx, "", OutcomeNotReady)
		return OutcomeNotReady, nil
	}
	target, ok := step(g, cur)
	if !ok {
		s.metrics.observeTransition(OutcomeUnresolved)
		return OutcomeUnresolved, nil
	}
	return s.RequestTransition(ctx, target.ID)
}

// HandleKey applies a keyboard binding. Unbound keys are ignored.
func (s *Session) HandleKey(ctx context.Context, key string) (Outcome, error) {
	switch key {
	case KeyNext:
		return s.Next(ctx)
	case KeyPrevious:
		return s.Previous(ctx)
	default:
		return OutcomeIgnored, nil
	}
}

// ActivateHotspot activates a hotspot of the current scene by id. Hotspots
// that belong to another scene are ignored.
func (s *Session) ActivateHotspot(ctx context.Context, hotspotID string) (Effect, Outcome, error) {
	s.mu.Lock()
	g, cur := s.graph, s.state.CurrentSceneID
	s.mu.Unlock()
	if g == nil {
		return NoOp, OutcomeNotReady, nil
	}
	h, ok := g.Hotspot(hotspotID)
	if !ok || h.SceneID != cur {
		return NoOp, OutcomeIgnored, nil
	}
	return s.activate(ctx, g, h)
}

// ActivateAt hit-tests an overlay click against the current scene's hotspots.
func (s *Session) ActivateAt(ctx context.Context, pt geometry.OverlayPoint) (Effect, Outcome, error) {
	s.mu.Lock()
	g, cur := s.graph, s.state.CurrentSceneID
	s.mu.Unlock()
	if g == nil {
		return NoOp, OutcomeNotReady, nil
	}
	sc, _ := g.Scene(cur)
	h, ok := HitTest(sc.Hotspots, pt, s.hitRadius)
	if !ok {
		return NoOp, OutcomeIgnored, nil
	}
	return s.activate(ctx, g, h)
}

func (s *Session) activate(ctx context.Context, g *scene.Graph, h scene.Hotspot) (Effect, Outcome, error) {
	eff := Activate(g, h)
	switch eff.Kind {
	case EffectTransition:
		outcome, err := s.RequestTransition(ctx, eff.SceneID)
		return eff, outcome, err
	case EffectShowInfo:
		return eff, s.showInfo(h), nil
	default:
		if h.Type == scene.HotspotLink {
			s.reject(ctx, h.Target(), OutcomeUnresolved)
			return eff, OutcomeUnresolved, nil
		}
		return eff, OutcomeIgnored, nil
	}
}

// showInfo opens h's panel, replacing any open one.
func (s *Session) showInfo(h scene.Hotspot) Outcome {
	s.mu.Lock()
	switch {
	case s.state.LoadState != LoadReady:
		s.mu.Unlock()
		return OutcomeNotReady
	case h.SceneID != s.state.CurrentSceneID:
		s.mu.Unlock()
		return OutcomeIgnored
	case s.state.ActiveHotspotModal == h.ID:
		s.mu.Unlock()
		return OutcomeInfoShown
	}
	s.state.ActiveHotspotModal = h.ID
	seq := s.changed(CauseModal)
	s.mu.Unlock()
	s.events.flush(seq)
	return OutcomeInfoShown
}

// CloseModal closes the open hotspot panel, if any.
func (s *Session) CloseModal() {
	s.mu.Lock()
	if s.state.ActiveHotspotModal == "" {
		s.mu.Unlock()
		return
	}
	s.state.ActiveHotspotModal = ""
	seq := s.changed(CauseModal)
	s.mu.Unlock()
	s.events.flush(seq)
}

// ToggleMap flips map visibility.
func (s *Session) ToggleMap() {
	s.updateViewMode(func(v *ViewMode) { v.MapVisible = !v.MapVisible })
}

// ToggleInfo flips the scene info panel.
func (s *Session) ToggleInfo() {
	s.updateViewMode(func(v *ViewMode) { v.InfoVisible = !v.InfoVisible })
}

func (s *Session) updateViewMode(fn func(*ViewMode)) {
	s.mu.Lock()
	fn(&s.state.ViewMode)
	seq := s.changed(CauseViewMode)
	s.mu.Unlock()
	s.events.flush(seq)
}

// ToggleFullscreen asks the host to enter or leave fullscreen. The flag
// changes only when the host reports it through FullscreenChanged.
func (s *Session) ToggleFullscreen(ctx context.Context) error {
	s.mu.Lock()
	on := s.state.ViewMode.Fullscreen
	s.mu.Unlock()

	if s.screen == nil {
		return ErrFullscreenUnsupported
	}
	if on {
		return s.screen.ExitFullscreen(ctx)
	}
	return s.screen.RequestFullscreen(ctx)
}

// FullscreenChanged records the host's fullscreen state.
func (s *Session) FullscreenChanged(active bool) {
	s.mu.Lock()
	if s.state.ViewMode.Fullscreen == active {
		s.mu.Unlock()
		return
	}
	s.state.ViewMode.Fullscreen = active
	seq := s.changed(CauseFullscreen)
	s.mu.Unlock()
	s.events.flush(seq)
}

// changed bumps the version and queues the event. Callers hold the lock and
// flush the returned sequence number after releasing it.
func (s *Session) changed(cause Cause) uint64 {
	s.state.Version++
	return s.events.push(Event{Cause: cause, State: s.state})
}
