package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwintner/marketpulse/internal/apperrors"
	"github.com/fwintner/marketpulse/internal/domain"
)

const testPeriod = 45 * time.Second

const (
	waitFor = 2 * time.Second
	pollAt  = 5 * time.Millisecond
)

// --- Mocks ---

type recordedCall struct {
	subject     domain.Subject
	analysisCtx domain.AnalysisContext
	resume      chan error
}

// fakeProvider records every fetch. In blocking mode each call suspends
// until the test releases it (or the call context is cancelled), which lets
// tests pin down interleavings exactly.
type fakeProvider struct {
	mu       sync.Mutex
	blocking bool
	calls    []*recordedCall
	errFor   map[domain.EntityKey]error
}

func newFakeProvider(blocking bool) *fakeProvider {
	return &fakeProvider{blocking: blocking, errFor: make(map[domain.EntityKey]error)}
}

func (p *fakeProvider) FetchSentiment(ctx context.Context, subject domain.Subject, analysisCtx domain.AnalysisContext) (*domain.SentimentResult, error) {
	call := &recordedCall{subject: subject, analysisCtx: analysisCtx, resume: make(chan error, 1)}

	p.mu.Lock()
	p.calls = append(p.calls, call)
	seq := len(p.calls)
	err := p.errFor[domain.Key(subject, analysisCtx)]
	blocking := p.blocking
	p.mu.Unlock()

	if blocking {
		select {
		case err = <-call.resume:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	return &domain.SentimentResult{
		Subject:    subject,
		Context:    analysisCtx,
		Historical: domain.HorizonAssessment{Score: -10, Label: "bearish", Summary: fmt.Sprintf("call-%d", seq)},
		Current:    domain.HorizonAssessment{Score: 5, Label: "neutral", Summary: fmt.Sprintf("call-%d", seq)},
		LongTerm:   domain.HorizonAssessment{Score: 20, Label: "bullish", Summary: fmt.Sprintf("call-%d", seq)},
		Drivers: []domain.Driver{
			{Factor: "weather", Impact: domain.ImpactNegative, Description: "drought risk", Evidence: "rainfall 40% below average"},
			{Factor: "exports", Impact: domain.ImpactPositive, Description: "strong demand", Evidence: "shipments up 12% YoY"},
		},
		Citations: []domain.Citation{{Title: "Market wire", URL: "https://example.com/wire"}},
		FetchedAt: time.Now(),
	}, nil
}

func (p *fakeProvider) setErr(subject domain.Subject, analysisCtx domain.AnalysisContext, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errFor[domain.Key(subject, analysisCtx)] = err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) callAt(i int) (domain.Subject, domain.AnalysisContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[i].subject, p.calls[i].analysisCtx
}

// release unblocks call i with the given error (nil for success), waiting
// for the call to be issued first.
func (p *fakeProvider) release(t *testing.T, i int, err error) {
	t.Helper()
	require.Eventually(t, func() bool { return p.callCount() > i }, waitFor, pollAt, "call %d never issued", i)
	p.mu.Lock()
	call := p.calls[i]
	p.mu.Unlock()
	call.resume <- err
}

type snapshotSink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *snapshotSink) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *snapshotSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

// --- Helpers ---

type testEngine struct {
	engine   *Engine
	clock    *clockwork.FakeClock
	provider *fakeProvider
	sink     *snapshotSink
}

func newTestEngine(t *testing.T, subjects []domain.Subject, provider *fakeProvider) *testEngine {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sink := &snapshotSink{}
	engine := NewEngine(provider, clock, subjects, domain.ContextDomestic, testPeriod, sink)
	engine.Start()
	t.Cleanup(engine.Stop)
	return &testEngine{engine: engine, clock: clock, provider: provider, sink: sink}
}

// waitWarm blocks until the initial prefetch has populated every subject.
func (te *testEngine) waitWarm(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return te.engine.Snapshot().CachedEntries == len(te.engine.Subjects())
	}, waitFor, pollAt, "prefetch never completed")
}

// advanceTick fires one scheduler tick on the fake clock.
func (te *testEngine) advanceTick(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, te.clock.BlockUntilContext(ctx, 1))
	te.clock.Advance(testPeriod)
}

// --- Selection controller ---

func TestSelectServedFromCache(t *testing.T) {
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, newFakeProvider(false))
	te.waitWarm(t)
	before := te.provider.callCount()

	require.NoError(t, te.engine.Select("Wheat"))

	snap := te.engine.Snapshot()
	require.NotNil(t, snap.Selected)
	assert.Equal(t, domain.Subject("Wheat"), *snap.Selected)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Error)
	assert.Equal(t, before, te.provider.callCount(), "cache hit must not dispatch")
}

func TestSelectUnknownSubject(t *testing.T) {
	te := newTestEngine(t, []domain.Subject{"Wheat"}, newFakeProvider(false))
	assert.ErrorIs(t, te.engine.Select("Plutonium"), domain.ErrUnknownSubject)
}

func TestSelectWithoutCacheEntryGoesForeground(t *testing.T) {
	provider := newFakeProvider(true)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)

	// Prefetch is stuck on Wheat, so Sugar has no cache entry yet.
	require.NoError(t, te.engine.Select("Sugar"))

	snap := te.engine.Snapshot()
	assert.True(t, snap.Loading)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, domain.Subject("Sugar"), *snap.Selected)

	provider.release(t, 1, nil) // foreground Sugar
	require.Eventually(t, func() bool {
		snap := te.engine.Snapshot()
		return !snap.Loading && snap.Results["Sugar"] != nil
	}, waitFor, pollAt)

	provider.release(t, 0, nil) // let the warm loop finish
	provider.release(t, 2, nil)
}

func TestSuccessfulSelectPopulatesExactlyOneKey(t *testing.T) {
	provider := newFakeProvider(true)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)

	require.NoError(t, te.engine.Select("Sugar"))
	provider.release(t, 1, nil) // foreground Sugar; the Wheat prefetch stays blocked

	require.Eventually(t, func() bool {
		_, err := te.engine.Result("Sugar", domain.ContextDomestic)
		return err == nil
	}, waitFor, pollAt)

	snap := te.engine.Snapshot()
	assert.Equal(t, 1, snap.CachedEntries, "exactly one key must be written")
	_, err := te.engine.Result("Wheat", domain.ContextDomestic)
	assert.ErrorIs(t, err, domain.ErrNotCached)
}

func TestDeselectKeepsInFlightFetchAlive(t *testing.T) {
	provider := newFakeProvider(true)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)

	require.NoError(t, te.engine.Select("Sugar"))
	te.engine.Deselect()

	snap := te.engine.Snapshot()
	assert.Nil(t, snap.Selected)
	assert.False(t, snap.Loading)

	// The fetch was not cancelled: its result still lands in the cache.
	provider.release(t, 1, nil)
	require.Eventually(t, func() bool {
		_, err := te.engine.Result("Sugar", domain.ContextDomestic)
		return err == nil
	}, waitFor, pollAt)

	snap = te.engine.Snapshot()
	assert.Nil(t, snap.Selected)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Error)
}

func TestDuplicateSelectDoesNotDoubleDispatch(t *testing.T) {
	provider := newFakeProvider(true)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)

	require.NoError(t, te.engine.Select("Sugar")) // call 1 (call 0 is the Wheat prefetch)
	require.Eventually(t, func() bool { return provider.callCount() == 2 }, waitFor, pollAt)

	require.NoError(t, te.engine.Select("Sugar"))
	te.engine.Snapshot() // barrier
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, provider.callCount(), "re-selecting the loading subject must not dispatch again")
}

func TestSelectionChangeDiscardsStaleForegroundFailure(t *testing.T) {
	provider := newFakeProvider(true)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)

	require.NoError(t, te.engine.Select("Sugar")) // call 1 (prefetch holds call 0)
	require.Eventually(t, func() bool { return provider.callCount() == 2 }, waitFor, pollAt)
	require.NoError(t, te.engine.Select("Wheat")) // call 2

	provider.release(t, 1, errors.New("late failure for old selection"))
	provider.release(t, 2, nil)

	require.Eventually(t, func() bool {
		snap := te.engine.Snapshot()
		return !snap.Loading && snap.Results["Wheat"] != nil
	}, waitFor, pollAt)

	snap := te.engine.Snapshot()
	assert.Nil(t, snap.Error, "stale failure must not surface for the new selection")
	require.NotNil(t, snap.Selected)
	assert.Equal(t, domain.Subject("Wheat"), *snap.Selected)
}

// --- Error classification ---

func TestForegroundFailureClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass apperrors.Class
	}{
		{name: "auth", err: apperrors.AuthError("key rejected", nil), wantClass: apperrors.ClassAuth},
		{name: "network", err: &url.Error{Op: "Post", URL: "https://example.com", Err: errors.New("dial tcp: refused")}, wantClass: apperrors.ClassNetwork},
		{name: "rate limit", err: apperrors.RateLimitError("throttled", nil), wantClass: apperrors.ClassRateLimit},
		{name: "unclassified", err: errors.New("schema mismatch"), wantClass: apperrors.ClassUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider(false)
			te := newTestEngine(t, []domain.Subject{"Wheat"}, provider)
			te.waitWarm(t)

			require.NoError(t, te.engine.Select("Wheat"))
			cached, err := te.engine.Result("Wheat", domain.ContextDomestic)
			require.NoError(t, err)

			provider.setErr("Wheat", domain.ContextDomestic, tt.err)
			te.engine.Retry()

			require.Eventually(t, func() bool {
				return te.engine.Snapshot().Error != nil
			}, waitFor, pollAt)

			snap := te.engine.Snapshot()
			assert.Equal(t, tt.wantClass, snap.Error.Class)
			assert.NotEmpty(t, snap.Error.Message)
			assert.False(t, snap.Loading)

			// The previously cached entry is untouched by the failure.
			after, err := te.engine.Result("Wheat", domain.ContextDomestic)
			require.NoError(t, err)
			assert.Same(t, cached, after)
		})
	}
}

func TestRetryClearsErrorAndRefetches(t *testing.T) {
	provider := newFakeProvider(false)
	te := newTestEngine(t, []domain.Subject{"Wheat"}, provider)
	te.waitWarm(t)

	require.NoError(t, te.engine.Select("Wheat"))
	provider.setErr("Wheat", domain.ContextDomestic, errors.New("flaky"))
	te.engine.Retry()
	require.Eventually(t, func() bool { return te.engine.Snapshot().Error != nil }, waitFor, pollAt)

	provider.setErr("Wheat", domain.ContextDomestic, nil)
	te.engine.Retry()

	require.Eventually(t, func() bool {
		snap := te.engine.Snapshot()
		return snap.Error == nil && !snap.Loading
	}, waitFor, pollAt)
}

func TestBackgroundFailureLeavesForegroundStateUntouched(t *testing.T) {
	provider := newFakeProvider(false)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)
	te.waitWarm(t)

	require.NoError(t, te.engine.Select("Wheat"))
	sugarBefore, err := te.engine.Result("Sugar", domain.ContextDomestic)
	require.NoError(t, err)

	provider.setErr("Sugar", domain.ContextDomestic, apperrors.NetworkError("transport failure", nil))
	before := provider.callCount()
	te.advanceTick(t) // cursor 0→1 refreshes Sugar, which fails silently

	require.Eventually(t, func() bool { return provider.callCount() > before }, waitFor, pollAt)

	snap := te.engine.Snapshot()
	assert.Nil(t, snap.Error, "background failures never surface")
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, domain.Subject("Wheat"), *snap.Selected)

	// The stale entry stays in place until the next successful pass.
	sugarAfter, err := te.engine.Result("Sugar", domain.ContextDomestic)
	require.NoError(t, err)
	assert.Same(t, sugarBefore, sugarAfter)
}

// --- Prefetch driver ---

func TestPrefetchIsStrictlySequential(t *testing.T) {
	provider := newFakeProvider(true)
	subjects := []domain.Subject{"Wheat", "Sugar", "Corn"}
	te := newTestEngine(t, subjects, provider)

	require.Eventually(t, func() bool { return provider.callCount() == 1 }, waitFor, pollAt)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, provider.callCount(), "no second prefetch may start while the first is in flight")

	for i := range subjects {
		require.Eventually(t, func() bool { return provider.callCount() >= i+1 }, waitFor, pollAt)
		subject, analysisCtx := provider.callAt(i)
		assert.Equal(t, subjects[i], subject, "prefetch must follow subject-list order")
		assert.Equal(t, domain.ContextDomestic, analysisCtx)
		provider.release(t, i, nil)
	}

	te.waitWarm(t)
	assert.Equal(t, len(subjects), provider.callCount())
}

func TestPrefetchFailureDoesNotAbortRemainingSubjects(t *testing.T) {
	provider := newFakeProvider(false)
	provider.setErr("Wheat", domain.ContextDomestic, apperrors.RateLimitError("throttled", nil))
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar", "Corn"}, provider)

	require.Eventually(t, func() bool {
		return te.engine.Snapshot().CachedEntries == 2
	}, waitFor, pollAt, "the two healthy subjects must still be warmed")

	snap := te.engine.Snapshot()
	assert.Nil(t, snap.Error, "prefetch failures never surface")
	assert.Equal(t, 3, provider.callCount())
}

// --- Background refresh scheduler ---

func TestSchedulerRoundRobinCyclicCoverage(t *testing.T) {
	provider := newFakeProvider(false)
	subjects := []domain.Subject{"Wheat", "Sugar", "Corn"}
	te := newTestEngine(t, subjects, provider)
	te.waitWarm(t)
	base := provider.callCount()

	// Cursor starts at 0 and advances before each refresh, so two full
	// cycles visit 1,2,0,1,2,0.
	want := []domain.Subject{"Sugar", "Corn", "Wheat", "Sugar", "Corn", "Wheat"}
	for i, expected := range want {
		te.advanceTick(t)
		require.Eventually(t, func() bool { return provider.callCount() >= base+i+1 }, waitFor, pollAt)

		subject, analysisCtx := provider.callAt(base + i)
		assert.Equal(t, expected, subject, "tick %d", i)
		assert.Equal(t, domain.ContextDomestic, analysisCtx)

		snap := te.engine.Snapshot()
		assert.GreaterOrEqual(t, snap.Cursor, 0)
		assert.Less(t, snap.Cursor, len(subjects))
	}
}

func TestSchedulerRefreshOverwritesEntry(t *testing.T) {
	provider := newFakeProvider(false)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)
	te.waitWarm(t)

	before, err := te.engine.Result("Sugar", domain.ContextDomestic)
	require.NoError(t, err)

	te.advanceTick(t) // refreshes Sugar

	require.Eventually(t, func() bool {
		after, err := te.engine.Result("Sugar", domain.ContextDomestic)
		return err == nil && after != before
	}, waitFor, pollAt, "refresh must overwrite the cache entry")

	snap := te.engine.Snapshot()
	assert.Equal(t, 2, snap.CachedEntries, "overwrite, not append")
}

// --- Context switch ---

func TestContextSwitchKeepsOldEntriesRetrievable(t *testing.T) {
	provider := newFakeProvider(false)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)
	te.waitWarm(t)

	te.engine.SwitchContext(domain.ContextGlobal)

	require.Eventually(t, func() bool {
		return te.engine.Snapshot().CachedEntries == 4
	}, waitFor, pollAt, "the new context must be warmed")

	snap := te.engine.Snapshot()
	assert.Equal(t, domain.ContextGlobal, snap.Context)
	for subject, result := range snap.Results {
		assert.Equal(t, domain.ContextGlobal, result.Context, "snapshot for %s must only expose the current context", subject)
	}

	// The cache is never cleared on a context switch.
	old, err := te.engine.Result("Wheat", domain.ContextDomestic)
	require.NoError(t, err)
	assert.Equal(t, domain.ContextDomestic, old.Context)
}

func TestContextSwitchSupersedesOldWarmLoop(t *testing.T) {
	provider := newFakeProvider(true)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)

	require.Eventually(t, func() bool { return provider.callCount() == 1 }, waitFor, pollAt)
	te.engine.SwitchContext(domain.ContextGlobal)

	// The new warm loop starts while the old one is still in flight.
	require.Eventually(t, func() bool { return provider.callCount() == 2 }, waitFor, pollAt)
	subject, analysisCtx := provider.callAt(1)
	assert.Equal(t, domain.Subject("Wheat"), subject)
	assert.Equal(t, domain.ContextGlobal, analysisCtx)

	// Completing the superseded domestic fetch still writes the cache
	// (stale-but-valid), but the old loop stops instead of warming Sugar.
	provider.release(t, 0, nil)
	require.Eventually(t, func() bool {
		_, err := te.engine.Result("Wheat", domain.ContextDomestic)
		return err == nil
	}, waitFor, pollAt)

	provider.release(t, 1, nil)
	provider.release(t, 2, nil) // Sugar under global
	require.Eventually(t, func() bool {
		return te.engine.Snapshot().CachedEntries == 3
	}, waitFor, pollAt)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, provider.callCount(), "no domestic Sugar fetch may be issued after the switch")
}

// --- Spec scenario: Wheat/Sugar with a 45s period ---

func TestScenarioPrefetchSelectAndScheduledRefreshes(t *testing.T) {
	provider := newFakeProvider(true)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)

	// t=0: prefetch starts with Wheat.
	require.Eventually(t, func() bool { return provider.callCount() == 1 }, waitFor, pollAt)
	subject, _ := provider.callAt(0)
	assert.Equal(t, domain.Subject("Wheat"), subject)

	// Selecting Wheat before any fetch completes issues a foreground
	// dispatch and sets the loading flag.
	require.NoError(t, te.engine.Select("Wheat"))
	snap := te.engine.Snapshot()
	assert.True(t, snap.Loading)
	require.Eventually(t, func() bool { return provider.callCount() == 2 }, waitFor, pollAt)
	subject, _ = provider.callAt(1)
	assert.Equal(t, domain.Subject("Wheat"), subject)

	// Let the prefetch pass and the foreground fetch complete.
	provider.release(t, 0, nil)
	provider.release(t, 1, nil)
	provider.release(t, 2, nil) // Sugar prefetch
	te.waitWarm(t)
	assert.Equal(t, 3, provider.callCount(), "warming two subjects plus one foreground dispatch")

	// t=45: the scheduler refreshes Sugar (cursor 0→1).
	te.advanceTick(t)
	provider.release(t, 3, nil)
	subject, _ = provider.callAt(3)
	assert.Equal(t, domain.Subject("Sugar"), subject)
	require.Eventually(t, func() bool { return te.engine.Snapshot().Cursor == 1 }, waitFor, pollAt)

	// t=90: the scheduler refreshes Wheat (cursor 1→0).
	te.advanceTick(t)
	provider.release(t, 4, nil)
	subject, _ = provider.callAt(4)
	assert.Equal(t, domain.Subject("Wheat"), subject)
	require.Eventually(t, func() bool { return te.engine.Snapshot().Cursor == 0 }, waitFor, pollAt)
}

// --- Snapshots and lifecycle ---

func TestSnapshotsArePublishedOnMutation(t *testing.T) {
	provider := newFakeProvider(false)
	te := newTestEngine(t, []domain.Subject{"Wheat"}, provider)
	te.waitWarm(t)
	before := te.sink.count()

	require.NoError(t, te.engine.Select("Wheat"))
	te.engine.Snapshot() // barrier

	assert.Greater(t, te.sink.count(), before)
}

func TestExpandDriverState(t *testing.T) {
	provider := newFakeProvider(false)
	te := newTestEngine(t, []domain.Subject{"Wheat"}, provider)
	te.waitWarm(t)

	require.NoError(t, te.engine.Select("Wheat"))
	require.NoError(t, te.engine.ExpandDriver(1))

	snap := te.engine.Snapshot()
	require.NotNil(t, snap.ExpandedDriver)
	assert.Equal(t, 1, *snap.ExpandedDriver)

	// Any selection change resets the expanded-driver state.
	require.NoError(t, te.engine.Select("Wheat"))
	assert.Nil(t, te.engine.Snapshot().ExpandedDriver)

	assert.ErrorIs(t, te.engine.ExpandDriver(-1), domain.ErrBadDriverIndex)
}

func TestStopIsIdempotentAndUnblocksCalls(t *testing.T) {
	provider := newFakeProvider(true)
	te := newTestEngine(t, []domain.Subject{"Wheat", "Sugar"}, provider)
	require.Eventually(t, func() bool { return provider.callCount() == 1 }, waitFor, pollAt)

	te.engine.Stop()
	te.engine.Stop()

	// Snapshot after Stop must not hang.
	assert.Equal(t, Snapshot{}, te.engine.Snapshot())
}
