package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fwintner/marketpulse/internal/apperrors"
	"github.com/fwintner/marketpulse/internal/domain"
	"github.com/fwintner/marketpulse/internal/metrics"
	"github.com/fwintner/marketpulse/internal/platform/logging"
)

// fetchMode distinguishes dispatches that may touch user-visible state from
// silent cache-only ones.
type fetchMode string

const (
	modeForeground fetchMode = "foreground"
	modePrefetch   fetchMode = "prefetch"
	modeBackground fetchMode = "background"
)

// --- Command types ---

type engineCmd interface{ engineCmd() }

type cmdSelect struct {
	subject domain.Subject
}

func (cmdSelect) engineCmd() {}

type cmdDeselect struct{}

func (cmdDeselect) engineCmd() {}

type cmdRetry struct{}

func (cmdRetry) engineCmd() {}

type cmdSwitchContext struct {
	analysisCtx domain.AnalysisContext
}

func (cmdSwitchContext) engineCmd() {}

type cmdExpandDriver struct {
	index int
}

func (cmdExpandDriver) engineCmd() {}

type cmdCollapseDriver struct{}

func (cmdCollapseDriver) engineCmd() {}

type cmdTick struct{}

func (cmdTick) engineCmd() {}

type cmdFetchDone struct {
	key    domain.EntityKey
	mode   fetchMode
	result *domain.SentimentResult
	err    error
}

func (cmdFetchDone) engineCmd() {}

type cmdSnapshot struct {
	replyCh chan Snapshot
}

func (cmdSnapshot) engineCmd() {}

type resultReply struct {
	result *domain.SentimentResult
	ok     bool
}

type cmdGetResult struct {
	key     domain.EntityKey
	replyCh chan resultReply
}

func (cmdGetResult) engineCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) engineCmd() {}

// --- Engine ---

// Engine is the orchestration actor. One goroutine owns the cache, the
// round-robin cursor and all UI-state flags; commands arrive on cmdCh.
// Inference calls never run on the actor goroutine.
type Engine struct {
	cmdCh    chan engineCmd
	provider domain.SentimentProvider
	clock    clockwork.Clock
	subjects []domain.Subject
	period   time.Duration

	broadcaster Broadcaster

	// Actor-owned state. Only run() touches these.
	cache          *Cache
	analysisCtx    domain.AnalysisContext
	selected       *domain.Subject
	loading        bool
	lastErr        *apperrors.Error
	expandedDriver *int
	cursor         int
	fgKey          *domain.EntityKey
	warmCancel     context.CancelFunc

	resetCh    chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewEngine creates an engine tracking the given ordered subject set under
// initialCtx. period is the background refresh interval: one subject is
// refreshed per period regardless of subject count, which bounds the total
// request rate against the upstream limit.
func NewEngine(provider domain.SentimentProvider, clock clockwork.Clock, subjects []domain.Subject, initialCtx domain.AnalysisContext, period time.Duration, broadcaster Broadcaster) *Engine {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Engine{
		cmdCh:       make(chan engineCmd, 256),
		provider:    provider,
		clock:       clock,
		subjects:    subjects,
		period:      period,
		broadcaster: broadcaster,
		cache:       NewCache(),
		analysisCtx: initialCtx,
		resetCh:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
	}
}

// Start launches the actor and the scheduler ticker, and kicks off the
// initial prefetch for the configured context.
func (e *Engine) Start() {
	go e.tickerLoop()
	go e.run()
}

// Stop shuts the engine down: the warm loop stops issuing new fetches, the
// ticker is cancelled, and in-flight inference calls are aborted. Blocks
// until the actor goroutine has exited. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		doneCh := make(chan struct{})
		e.cmdCh <- cmdStop{doneCh: doneCh}
		<-doneCh
	})
}

func (e *Engine) run() {
	// First load counts as a context change: warm the cache for every
	// tracked subject before anyone selects anything.
	e.startWarm(e.analysisCtx)

	for cmd := range e.cmdCh {
		switch c := cmd.(type) {
		case cmdSelect:
			e.handleSelect(c.subject)
		case cmdDeselect:
			e.handleDeselect()
		case cmdRetry:
			e.handleRetry()
		case cmdSwitchContext:
			e.handleSwitchContext(c.analysisCtx)
		case cmdExpandDriver:
			e.expandedDriver = &c.index
			e.publish()
		case cmdCollapseDriver:
			e.expandedDriver = nil
			e.publish()
		case cmdTick:
			e.handleTick()
		case cmdFetchDone:
			e.handleFetchDone(c)
		case cmdSnapshot:
			c.replyCh <- e.snapshot()
		case cmdGetResult:
			result, ok := e.cache.Get(c.key)
			c.replyCh <- resultReply{result: result, ok: ok}
		case cmdStop:
			e.stopWarm()
			close(e.stopCh)
			e.baseCancel()
			close(c.doneCh)
			return
		}
	}
}

func (e *Engine) handleSelect(subject domain.Subject) {
	e.selected = &subject
	e.expandedDriver = nil
	e.lastErr = nil

	key := domain.Key(subject, e.analysisCtx)
	if _, ok := e.cache.Get(key); ok {
		metrics.CacheHits.Inc()
		e.loading = false
		e.publish()
		return
	}

	metrics.CacheMisses.Inc()
	e.dispatch(subject, e.analysisCtx, modeForeground)
	e.publish()
}

func (e *Engine) handleDeselect() {
	// In-flight work is not cancelled; a late result still lands in the
	// cache but no longer drives visible loading/error state.
	e.selected = nil
	e.expandedDriver = nil
	e.loading = false
	e.lastErr = nil
	e.publish()
}

func (e *Engine) handleRetry() {
	if e.selected == nil {
		slog.Debug("Retry ignored: no subject selected")
		return
	}
	e.lastErr = nil
	e.dispatch(*e.selected, e.analysisCtx, modeForeground)
	e.publish()
}

func (e *Engine) handleSwitchContext(analysisCtx domain.AnalysisContext) {
	if analysisCtx == e.analysisCtx {
		return
	}
	e.analysisCtx = analysisCtx
	metrics.ContextSwitchesTotal.Inc()
	slog.Info("Analysis context switched", "context", analysisCtx)

	// Cursor semantics are preserved across the switch; only the timer
	// resets. Old-context cache entries stay retrievable.
	e.resetTicker()
	e.startWarm(analysisCtx)

	// The current selection is re-resolved under the new context: served
	// from cache if already warmed, fetched in the foreground otherwise.
	if e.selected != nil {
		e.handleSelect(*e.selected)
		return
	}
	e.publish()
}

func (e *Engine) handleTick() {
	metrics.SchedulerTicksTotal.Inc()
	if len(e.subjects) == 0 {
		return
	}
	e.cursor = (e.cursor + 1) % len(e.subjects)
	e.dispatch(e.subjects[e.cursor], e.analysisCtx, modeBackground)
	e.publish()
}

// dispatch issues one fetch for one entity key. Foreground dispatches own
// the loading flag and may surface a classified error; prefetch and
// background dispatches only ever write the cache.
func (e *Engine) dispatch(subject domain.Subject, analysisCtx domain.AnalysisContext, mode fetchMode) {
	key := domain.Key(subject, analysisCtx)
	if mode == modeForeground {
		if e.loading && e.fgKey != nil && *e.fgKey == key {
			// Duplicate of the outstanding foreground fetch; the result
			// will land for the same key anyway.
			return
		}
		e.loading = true
		e.lastErr = nil
		e.fgKey = &key
	}
	go e.fetch(key, mode)
}

func (e *Engine) fetch(key domain.EntityKey, mode fetchMode) {
	fetchID := logging.NewFetchID()
	ctx := logging.WithFetchID(e.baseCtx, fetchID)

	start := e.clock.Now()
	result, err := e.provider.FetchSentiment(ctx, key.Subject, key.Context)
	metrics.FetchDuration.Observe(e.clock.Since(start).Seconds())

	e.send(cmdFetchDone{key: key, mode: mode, result: result, err: err})
}

func (e *Engine) handleFetchDone(c cmdFetchDone) {
	if c.err != nil {
		classified := apperrors.Classify(c.err)
		metrics.FetchesTotal.WithLabelValues(string(c.mode), "error").Inc()
		metrics.FetchErrorsTotal.WithLabelValues(string(classified.Class)).Inc()

		if c.mode != modeForeground {
			// Swallowed: no user-visible state change, no retry. The stale
			// cache entry (if any) stands until the next scheduled pass.
			slog.Debug("Silent fetch failed", "mode", c.mode, "key", c.key.String(), "class", classified.Class, "error", c.err)
			return
		}

		if !e.foregroundCurrent(c.key) {
			// Selection or context moved on while the fetch was in flight;
			// the UI flags belong to the new selection now.
			slog.Debug("Stale foreground failure discarded", "key", c.key.String(), "class", classified.Class)
			return
		}

		e.loading = false
		e.lastErr = classified
		e.fgKey = nil
		slog.Warn("Foreground fetch failed", "key", c.key.String(), "class", classified.Class, "error", c.err)
		e.publish()
		return
	}

	// Exactly one cache write per successful dispatch, last-write-wins by
	// completion order.
	e.cache.Put(c.key, c.result)
	metrics.FetchesTotal.WithLabelValues(string(c.mode), "success").Inc()
	metrics.CacheEntries.Set(float64(e.cache.Len()))

	if c.mode == modeForeground && e.foregroundCurrent(c.key) {
		e.loading = false
		e.fgKey = nil
	}
	e.publish()
}

// foregroundCurrent reports whether a foreground completion for key is still
// allowed to mutate the loading/error flags.
func (e *Engine) foregroundCurrent(key domain.EntityKey) bool {
	return e.selected != nil && *e.selected == key.Subject && e.analysisCtx == key.Context
}

// --- Prefetch driver ---

func (e *Engine) startWarm(analysisCtx domain.AnalysisContext) {
	e.stopWarm()
	gate, cancel := context.WithCancel(context.Background())
	e.warmCancel = cancel
	go e.warm(gate, analysisCtx)
}

func (e *Engine) stopWarm() {
	if e.warmCancel != nil {
		e.warmCancel()
		e.warmCancel = nil
	}
}

// warm fetches every tracked subject in list order, awaiting each call
// before starting the next. The strict sequencing is a throttle against the
// upstream rate limit, not an optimization. A superseded gate stops the loop
// between iterations but never aborts the call already in flight.
func (e *Engine) warm(gate context.Context, analysisCtx domain.AnalysisContext) {
	for _, subject := range e.subjects {
		if gate.Err() != nil {
			metrics.PrefetchRunsTotal.WithLabelValues("superseded").Inc()
			return
		}

		fetchID := logging.NewFetchID()
		ctx := logging.WithFetchID(e.baseCtx, fetchID)

		start := e.clock.Now()
		result, err := e.provider.FetchSentiment(ctx, subject, analysisCtx)
		metrics.FetchDuration.Observe(e.clock.Since(start).Seconds())

		e.send(cmdFetchDone{key: domain.Key(subject, analysisCtx), mode: modePrefetch, result: result, err: err})
	}
	metrics.PrefetchRunsTotal.WithLabelValues("completed").Inc()
}

// --- Scheduler ticker ---

func (e *Engine) tickerLoop() {
	ticker := e.clock.NewTicker(e.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			select {
			case e.cmdCh <- cmdTick{}:
			case <-e.stopCh:
				return
			}
		case <-e.resetCh:
			ticker.Reset(e.period)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) resetTicker() {
	select {
	case e.resetCh <- struct{}{}:
	default:
	}
}

// send delivers a command unless the engine has already stopped.
func (e *Engine) send(cmd engineCmd) {
	select {
	case e.cmdCh <- cmd:
	case <-e.stopCh:
	}
}

// --- Snapshot ---

func (e *Engine) snapshot() Snapshot {
	results := make(map[domain.Subject]*domain.SentimentResult, len(e.subjects))
	for _, subject := range e.subjects {
		if result, ok := e.cache.Get(domain.Key(subject, e.analysisCtx)); ok {
			results[subject] = result
		}
	}

	snap := Snapshot{
		Subjects:       e.subjects,
		Context:        e.analysisCtx,
		Cursor:         e.cursor,
		Selected:       e.selected,
		Loading:        e.loading,
		ExpandedDriver: e.expandedDriver,
		Results:        results,
		CachedEntries:  e.cache.Len(),
	}
	if e.lastErr != nil {
		snap.Error = &ErrorState{Class: e.lastErr.Class, Message: e.lastErr.UserMessage()}
	}
	return snap
}

func (e *Engine) publish() {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.Publish(e.snapshot())
	metrics.SnapshotsPublished.Inc()
}

// --- Public API ---

// Select sets the current subject. If no cache entry exists yet for the
// subject under the current context, a foreground fetch is issued.
func (e *Engine) Select(subject domain.Subject) error {
	if !e.tracks(subject) {
		return domain.ErrUnknownSubject
	}
	e.send(cmdSelect{subject: subject})
	return nil
}

// Deselect clears the current subject and returns to the overview.
func (e *Engine) Deselect() {
	e.send(cmdDeselect{})
}

// Retry re-issues the foreground fetch for the current selection.
func (e *Engine) Retry() {
	e.send(cmdRetry{})
}

// SwitchContext changes the global analysis scope, restarts the prefetch
// driver and resets the refresh timer. Cached entries for the previous
// context remain retrievable.
func (e *Engine) SwitchContext(analysisCtx domain.AnalysisContext) {
	e.send(cmdSwitchContext{analysisCtx: analysisCtx})
}

// ExpandDriver marks one driver row as expanded.
func (e *Engine) ExpandDriver(index int) error {
	if index < 0 {
		return domain.ErrBadDriverIndex
	}
	e.send(cmdExpandDriver{index: index})
	return nil
}

// CollapseDriver clears the expanded-driver state.
func (e *Engine) CollapseDriver() {
	e.send(cmdCollapseDriver{})
}

// Snapshot returns the current read model.
func (e *Engine) Snapshot() Snapshot {
	replyCh := make(chan Snapshot, 1)
	e.send(cmdSnapshot{replyCh: replyCh})
	select {
	case snap := <-replyCh:
		return snap
	case <-e.stopCh:
		return Snapshot{}
	}
}

// Result returns the cached sentiment for one entity key.
func (e *Engine) Result(subject domain.Subject, analysisCtx domain.AnalysisContext) (*domain.SentimentResult, error) {
	if !e.tracks(subject) {
		return nil, domain.ErrUnknownSubject
	}
	replyCh := make(chan resultReply, 1)
	e.send(cmdGetResult{key: domain.Key(subject, analysisCtx), replyCh: replyCh})
	select {
	case reply := <-replyCh:
		if !reply.ok {
			return nil, domain.ErrNotCached
		}
		return reply.result, nil
	case <-e.stopCh:
		return nil, domain.ErrNotCached
	}
}

// Subjects returns the fixed ordered subject set.
func (e *Engine) Subjects() []domain.Subject {
	return e.subjects
}

func (e *Engine) tracks(subject domain.Subject) bool {
	for _, s := range e.subjects {
		if s == subject {
			return true
		}
	}
	return false
}
