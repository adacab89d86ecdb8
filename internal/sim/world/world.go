package world

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"signlink.ai/internal/persistence/snapshot"
	"signlink.ai/internal/protocol"
	"signlink.ai/internal/signlink"
	"signlink.ai/internal/signlink/model"
	"signlink.ai/internal/signlink/viewers"
	"signlink.ai/internal/sim/world/terrain/store"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	ChunkSize          int
	ViewRadiusChunks   int
	SnapshotEveryTicks int
	MaxLineWidth       int

	RateLimits RateLimitConfig
	Engine     signlink.Config
}

type RateLimitConfig struct {
	EditWindowTicks     int
	EditMax             int
	InteractWindowTicks int
	InteractMax         int
}

type JoinRequest struct {
	SessionID string
	Name      string
	Out       chan []byte
	Resp      chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Code    string
	Message string
}

// Envelope carries one decoded client message into the world loop.
type Envelope struct {
	SessionID string
	Msg       any
}

// World owns the signs of one world and the engine that renders them.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg WorldConfig
	log *zap.Logger

	tick atomic.Uint64

	signs   *store.ChunkStore
	engine  *signlink.Engine
	viewers map[string]*Viewer // session id -> viewer

	inbox chan Envelope
	join  chan JoinRequest
	leave chan string
	admin chan adminReq
	stop  chan struct{}

	// Optional (may be nil). Implemented in internal/persistence/*.
	auditLogger  signlink.AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1

	metrics atomic.Value // WorldMetrics
	dropped atomic.Uint64
}

func New(cfg WorldConfig, logger *zap.Logger) (*World, error) {
	if cfg.ID == "" {
		return nil, errors.New("world id required")
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 16
	}
	if cfg.MaxLineWidth <= 0 {
		cfg.MaxLineWidth = cfg.Engine.MaxLineWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &World{
		cfg:     cfg,
		log:     logger,
		signs:   store.NewChunkStore(cfg.ID, cfg.ChunkSize),
		viewers: map[string]*Viewer{},
		inbox:   make(chan Envelope, 1024),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		admin:   make(chan adminReq, 16),
		stop:    make(chan struct{}),
	}
	w.engine = signlink.New(cfg.Engine, signlink.Deps{
		Surfaces:  w,
		Transport: worldTransport{w: w},
		Viewers:   viewers.SourceFunc(w.onlineViewers),
		Audit:     auditFunc(w.writeAudit),
		Logger:    logger.Named("engine"),
		Clock:     w.tick.Load,
	})
	w.publishMetrics(0)
	return w, nil
}

func (w *World) SetAuditLogger(l signlink.AuditLogger)         { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- Envelope    { return w.inbox }
func (w *World) Join() chan<- JoinRequest { return w.join }
func (w *World) Leave() chan<- string     { return w.leave }

func (w *World) ID() string          { return w.cfg.ID }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Run(ctx context.Context) error {
	if err := w.engine.Start(); err != nil {
		return err
	}
	defer w.engine.Stop()

	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []Envelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingActions = append(pendingActions, env)
		case req := <-w.admin:
			w.handleAdmin(req)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingActions)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

func (w *World) step(joins []JoinRequest, leaves []string, actions []Envelope) {
	start := time.Now()
	nowTick := w.tick.Load()

	// Leaves and joins apply at the tick boundary, before any action.
	for _, id := range leaves {
		w.handleLeave(id)
	}
	for _, req := range joins {
		resp := w.handleJoin(req)
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	// Actions apply in inbox order.
	for _, env := range actions {
		v := w.viewers[env.SessionID]
		if v == nil {
			continue
		}
		w.apply(v, env.Msg, nowTick)
	}

	w.engine.Tick()

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && nowTick != 0 && nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot(nowTick)
		select {
		case w.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	w.tick.Add(1)
	w.publishMetrics(time.Since(start))
}

// StepOnce advances the world by a single tick using the same ordering as Run.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, actions []Envelope) uint64 {
	tick := w.tick.Load()
	w.step(joins, leaves, actions)
	return tick
}

func (w *World) sortedViewers() []*Viewer {
	out := make([]*Viewer, 0, len(w.viewers))
	for _, v := range w.viewers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) onlineViewers() []viewers.Viewer {
	out := make([]viewers.Viewer, 0, len(w.viewers))
	for _, v := range w.sortedViewers() {
		out = append(out, v)
	}
	return out
}

// ReadSurface returns the text of a sign in a loaded chunk.
func (w *World) ReadSurface(loc model.Location) (model.Lines, model.Lines, bool) {
	if loc.World != w.cfg.ID {
		return model.Lines{}, model.Lines{}, false
	}
	if !w.signs.IsLoaded(w.signs.KeyOf(loc.X, loc.Z)) {
		return model.Lines{}, model.Lines{}, false
	}
	sg, ok := w.signs.GetSign(loc.ToArray())
	if !ok {
		return model.Lines{}, model.Lines{}, false
	}
	return sg.Front, sg.Back, true
}

func (w *World) LoadedSurfaces() []model.Location { return w.signs.LoadedSigns() }

type auditFunc func(signlink.AuditEntry) error

func (f auditFunc) WriteAudit(e signlink.AuditEntry) error { return f(e) }

func (w *World) writeAudit(e signlink.AuditEntry) error {
	if w.auditLogger == nil {
		return nil
	}
	return w.auditLogger.WriteAudit(e)
}

func (w *World) audit(actor, action string, pos [3]int, side, reason string) {
	err := w.writeAudit(signlink.AuditEntry{
		Tick:   w.tick.Load(),
		Actor:  actor,
		Action: action,
		World:  w.cfg.ID,
		Pos:    pos,
		Side:   side,
		Reason: reason,
	})
	if err != nil {
		w.log.Warn("audit write", zap.String("action", action), zap.String("actor", actor), zap.Error(err))
	}
}
