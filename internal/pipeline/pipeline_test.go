package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/config"
	"vigilant-go/internal/logger"
	"vigilant-go/internal/reasoning"
	"vigilant-go/internal/types"
)

var wavBytes = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 64)...)

type analyzerFunc func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error)

func (f analyzerFunc) Analyze(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
	return f(ctx, art)
}

type transcriberFunc func(ctx context.Context, art types.Artifact) (types.Transcription, error)

func (f transcriberFunc) Transcribe(ctx context.Context, art types.Artifact) (types.Transcription, error) {
	return f(ctx, art)
}

type reasonerFunc func(ctx context.Context, in reasoning.Input) (types.Reasoning, error)

func (f reasonerFunc) Reason(ctx context.Context, in reasoning.Input) (types.Reasoning, error) {
	return f(ctx, in)
}

type fakeStore struct {
	catalogue []types.Clause
	byQuery   map[string][]types.Clause
	err       error

	mu      sync.Mutex
	queries []string
}

func (s *fakeStore) AllClauses() []types.Clause { return s.catalogue }

func (s *fakeStore) Retrieve(ctx context.Context, q string, k int) ([]types.Clause, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.byQuery[q], nil
}

// countingArtifacts wraps the temp dir store and counts releases.
type countingArtifacts struct {
	TempDirStore
	acquired atomic.Int32
	released atomic.Int32
	paths    sync.Map
}

func (c *countingArtifacts) Acquire(id, format string, audio []byte) (types.Artifact, error) {
	a, err := c.TempDirStore.Acquire(id, format, audio)
	if err == nil {
		c.acquired.Add(1)
		c.paths.Store(a.Path, true)
	}
	return a, err
}

func (c *countingArtifacts) Release(a types.Artifact) error {
	c.released.Add(1)
	return c.TempDirStore.Release(a)
}

func (c *countingArtifacts) assertAllGone(t *testing.T) {
	t.Helper()
	c.paths.Range(func(k, _ any) bool {
		_, err := os.Stat(k.(string))
		assert.True(t, os.IsNotExist(err), "artifact %s left behind", k)
		return true
	})
}

var fixedNow = time.Date(2026, 2, 20, 6, 0, 0, 0, time.UTC) // 11:30 IST

func segments() []types.AcousticSegment {
	return []types.AcousticSegment{
		{Start: 0, Energy: 0.4, Arousal: types.ArousalMedium},
		{Start: 10 * time.Second, Energy: 0.8, Arousal: types.ArousalHigh},
	}
}

func transcript() types.Transcription {
	return types.Transcription{
		Languages: []string{"English"},
		Utterances: []types.Utterance{
			{Speaker: types.SpeakerAgent, Text: "Pay today or police will come", Offset: 2 * time.Second},
			{Speaker: types.SpeakerCustomer, Text: "I already paid", Offset: 8 * time.Second},
			{Speaker: types.SpeakerAgent, Text: "I will visit your office", Offset: 15 * time.Second},
		},
	}
}

func answer() types.Reasoning {
	return types.Reasoning{
		PolicyViolations:    []types.Violation{{ClauseID: "RBI-2", Severity: "high"}},
		RiskEscalationScore: types.ValueOf(70),
		AgentQualityScore:   types.ValueOf(30),
	}
}

type harness struct {
	o         *Orchestrator
	store     *fakeStore
	artifacts *countingArtifacts
	lastInput atomic.Pointer[reasoning.Input]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: &fakeStore{
			catalogue: []types.Clause{{ID: "RBI-1", RuleName: "Hours"}, {ID: "RBI-2", RuleName: "No threats"}},
			byQuery: map[string][]types.Clause{
				"Pay today or police will come": {{ID: "RBI-2"}, {ID: "RBI-9", RuleName: "Legal action"}},
				"I will visit your office":      {{ID: "RBI-9"}, {ID: "RBI-7", RuleName: "Workplace visits"}},
			},
		},
		artifacts: &countingArtifacts{TempDirStore: TempDirStore{Dir: t.TempDir()}},
	}
	def := config.Builtin()
	h.o = New(
		analyzerFunc(func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
			return segments(), nil
		}),
		transcriberFunc(func(ctx context.Context, art types.Artifact) (types.Transcription, error) {
			return transcript(), nil
		}),
		h.store,
		reasonerFunc(func(ctx context.Context, in reasoning.Input) (types.Reasoning, error) {
			h.lastInput.Store(&in)
			return answer(), nil
		}),
		def,
		logger.Discard().Entry,
	)
	h.o.NewID = func() string { return "REQ-TEST01-MA" }
	h.o.Now = func() time.Time { return fixedNow }
	h.o.Artifacts = h.artifacts
	return h
}

func request() Request {
	return Request{Audio: wavBytes, Format: "call.wav", ReceivedAt: fixedNow}
}

// blockUntilCanceled stands in for a collaborator still in flight.
func blockUntilCanceled[T any](ctx context.Context) (T, error) {
	<-ctx.Done()
	var zero T
	return zero, apperr.FromContext(ctx, "blocked")
}

var (
	blockingAnalyzer = analyzerFunc(func(ctx context.Context, _ types.Artifact) ([]types.AcousticSegment, error) {
		return blockUntilCanceled[[]types.AcousticSegment](ctx)
	})
	blockingTranscriber = transcriberFunc(func(ctx context.Context, _ types.Artifact) (types.Transcription, error) {
		return blockUntilCanceled[types.Transcription](ctx)
	})
)

func TestAnalyze_Success(t *testing.T) {
	h := newHarness(t)
	rep, err := h.o.Analyze(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, "REQ-TEST01-MA", rep.RequestID)
	assert.Equal(t, "2026-02-20T06:00:00Z", rep.Metadata.Timestamp)
	assert.Len(t, rep.TranscriptThreads, 3)
	assert.Len(t, rep.ComplianceAudit.PolicyViolations, 1, "11:30 local is inside calling hours")

	in := h.lastInput.Load()
	require.NotNil(t, in)
	ids := func(cs []types.Clause) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.ID
		}
		return out
	}
	assert.Equal(t, []string{"RBI-2", "RBI-9", "RBI-7"}, ids(in.Relevant))
	assert.Equal(t, []string{"RBI-1", "RBI-2", "RBI-9", "RBI-7"}, ids(in.Clauses))
	assert.Len(t, in.Segments, 2)
	assert.False(t, in.Time.Violation)
	assert.ElementsMatch(t, []string{"Pay today or police will come", "I will visit your office"}, h.store.queries,
		"only agent utterances are queried")

	assert.EqualValues(t, 1, h.artifacts.acquired.Load())
	assert.EqualValues(t, 1, h.artifacts.released.Load())
	h.artifacts.assertAllGone(t)
}

func TestAnalyze_TimeViolationInjected(t *testing.T) {
	h := newHarness(t)
	req := request()
	req.ReceivedAt = time.Date(2026, 2, 20, 14, 0, 0, 0, time.UTC) // 19:30 IST
	rep, err := h.o.Analyze(context.Background(), req)
	require.NoError(t, err)

	vs := rep.ComplianceAudit.PolicyViolations
	require.Len(t, vs, 2)
	assert.Equal(t, "INTERNAL-TIME-01", vs[1].ClauseID)
	assert.Equal(t, "19:30", vs[1].Timestamp)
}

func TestAnalyze_CustomRulesReachReasoning(t *testing.T) {
	h := newHarness(t)
	req := request()
	req.Override = &config.Override{
		RiskTriggers: []string{"Workplace Visit"},
		CustomRules:  []config.Rule{{RuleID: "BANK-01", RuleName: "No workplace calls"}, {RuleID: "RBI-1", RuleName: "dup"}},
	}
	rep, err := h.o.Analyze(context.Background(), req)
	require.NoError(t, err)

	in := h.lastInput.Load()
	last := in.Clauses[len(in.Clauses)-1]
	assert.Equal(t, "BANK-01", last.ID)
	assert.Equal(t, SourceClientConfig, last.Source)
	assert.Len(t, in.Clauses, 5, "RBI-1 from the catalogue wins over the tenant duplicate")
	assert.Contains(t, rep.ConfigApplied.RiskTriggers, "Workplace Visit")
	assert.Contains(t, rep.ConfigApplied.RiskTriggers, "Harassment")
}

func TestAnalyze_JoinFailures(t *testing.T) {
	decode := apperr.New(apperr.KindDecodeFailure, "acoustic", "corrupt frames")
	upstream := apperr.New(apperr.KindUpstream, "transcription", "502")
	transcrFailed := make(chan struct{})

	cases := []struct {
		name      string
		acoustic  analyzerFunc
		transcr   transcriberFunc
		wantStage string
		wantKind  apperr.Kind
	}{
		{
			name: "acoustic fails, transcription in flight",
			acoustic: func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
				return nil, decode
			},
			transcr:   blockingTranscriber,
			wantStage: StageAcoustic,
			wantKind:  apperr.KindDecodeFailure,
		},
		{
			name:     "transcription fails, acoustic in flight",
			acoustic: blockingAnalyzer,
			transcr: func(ctx context.Context, art types.Artifact) (types.Transcription, error) {
				return types.Transcription{}, upstream
			},
			wantStage: StageTranscription,
			wantKind:  apperr.KindUpstream,
		},
		{
			name: "acoustic fails, transcription succeeded",
			acoustic: func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
				time.Sleep(10 * time.Millisecond)
				return nil, decode
			},
			transcr: func(ctx context.Context, art types.Artifact) (types.Transcription, error) {
				return transcript(), nil
			},
			wantStage: StageAcoustic,
			wantKind:  apperr.KindDecodeFailure,
		},
		{
			name: "acoustic fails first, transcription fails later on its own",
			acoustic: func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
				return nil, decode
			},
			transcr: func(ctx context.Context, art types.Artifact) (types.Transcription, error) {
				time.Sleep(50 * time.Millisecond)
				return types.Transcription{}, upstream
			},
			wantStage: StageAcoustic,
			wantKind:  apperr.KindDecodeFailure,
		},
		{
			name: "transcription fails first, acoustic fails later on its own",
			acoustic: func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
				<-transcrFailed
				time.Sleep(20 * time.Millisecond)
				return nil, decode
			},
			transcr: func(ctx context.Context, art types.Artifact) (types.Transcription, error) {
				close(transcrFailed)
				return types.Transcription{}, upstream
			},
			wantStage: StageTranscription,
			wantKind:  apperr.KindUpstream,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.o.Acoustic = tc.acoustic
			h.o.Transcriber = tc.transcr
			reasoned := false
			h.o.Reasoner = reasonerFunc(func(ctx context.Context, in reasoning.Input) (types.Reasoning, error) {
				reasoned = true
				return answer(), nil
			})

			events := collect(h.o.Stream(context.Background(), request()))

			failed := 0
			for _, e := range events {
				if e.Status == StatusFailed {
					failed++
				}
			}
			assert.Equal(t, 1, failed, "exactly one failed event")
			last := events[len(events)-1]
			assert.Equal(t, StatusFailed, last.Status)
			assert.Equal(t, tc.wantStage, last.Stage)
			f, ok := last.Result.(*Failure)
			require.True(t, ok)
			assert.Equal(t, string(tc.wantKind), f.Kind)
			assert.Equal(t, tc.wantStage, f.Stage)

			assert.False(t, reasoned)
			assert.EqualValues(t, 1, h.artifacts.released.Load())
			h.artifacts.assertAllGone(t)
		})
	}
}

func TestFirstFailure(t *testing.T) {
	decode := apperr.New(apperr.KindDecodeFailure, "acoustic", "corrupt frames")
	upstream := apperr.New(apperr.KindUpstream, "transcription", "502")
	canceled := apperr.New(apperr.KindCanceled, "transcription", "context canceled")

	cases := []struct {
		name      string
		arrivals  []outcome
		wantStage string
		wantErr   error
	}{
		{"no failures", []outcome{{StageAcoustic, nil}, {StageTranscription, nil}}, "", nil},
		{"one failure", []outcome{{StageTranscription, nil}, {StageAcoustic, decode}}, StageAcoustic, decode},
		{"induced cancellation discarded", []outcome{{StageAcoustic, decode}, {StageTranscription, canceled}}, StageAcoustic, decode},
		{"simultaneous failures prefer transcription", []outcome{{StageAcoustic, decode}, {StageTranscription, upstream}}, StageTranscription, upstream},
		{"transcription first", []outcome{{StageTranscription, upstream}, {StageAcoustic, decode}}, StageTranscription, upstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results := make(chan outcome, len(tc.arrivals))
			for _, o := range tc.arrivals {
				results <- o
			}
			cancels := 0
			got := firstFailure(results, len(tc.arrivals), func() { cancels++ })
			assert.Equal(t, tc.wantStage, got.stage)
			assert.Equal(t, tc.wantErr, got.err)
			if tc.wantErr != nil {
				assert.Equal(t, 1, cancels)
			} else {
				assert.Zero(t, cancels)
			}
		})
	}
}

func TestFirstFailure_LaterFailureDoesNotOverride(t *testing.T) {
	decode := apperr.New(apperr.KindDecodeFailure, "acoustic", "corrupt frames")
	upstream := apperr.New(apperr.KindUpstream, "transcription", "502")

	results := make(chan outcome, 2)
	results <- outcome{StageAcoustic, decode}
	canceled := make(chan struct{})
	go func() {
		// the sibling only reports after the join has moved on
		<-canceled
		time.Sleep(20 * time.Millisecond)
		results <- outcome{StageTranscription, upstream}
	}()

	got := firstFailure(results, 2, func() { close(canceled) })
	assert.Equal(t, StageAcoustic, got.stage)
	assert.Equal(t, decode, got.err)
}

func TestAnalyze_SyncFailureCarriesStage(t *testing.T) {
	h := newHarness(t)
	h.o.Clauses = &fakeStore{err: apperr.New(apperr.KindStoreUnavailable, "clause_store", "index missing")}

	_, err := h.o.Analyze(context.Background(), request())
	require.Error(t, err)
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, StageRetrieval, e.Stage)
	assert.Equal(t, apperr.KindStoreUnavailable, e.Kind)
	assert.EqualValues(t, 1, h.artifacts.released.Load())
}

func TestAnalyze_ReasoningFailuresAreDistinct(t *testing.T) {
	for _, kind := range []apperr.Kind{apperr.KindQuotaExhausted, apperr.KindSchemaViolation, apperr.KindUpstream} {
		h := newHarness(t)
		h.o.Reasoner = reasonerFunc(func(ctx context.Context, in reasoning.Input) (types.Reasoning, error) {
			return types.Reasoning{}, apperr.New(kind, "llm", "nope")
		})
		_, err := h.o.Analyze(context.Background(), request())
		assert.Equal(t, kind, apperr.KindOf(err))
		assert.ErrorIs(t, err, &apperr.Error{Kind: kind, Stage: StageReasoning})
		assert.EqualValues(t, 1, h.artifacts.released.Load())
	}
}

func TestAnalyze_IngestFailures(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want apperr.Kind
	}{
		{"empty audio", Request{Format: ".wav"}, apperr.KindDecodeFailure},
		{"unsupported declared format", Request{Audio: wavBytes, Format: "notes.txt"}, apperr.KindUnsupportedFormat},
		{"unrecognised content", Request{Audio: []byte("hello world, not audio")}, apperr.KindUnsupportedFormat},
		{"bad override", Request{Audio: wavBytes, Format: ".wav", Override: &config.Override{
			CustomRules: []config.Rule{{RuleName: "missing id"}},
		}}, apperr.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.o.Analyze(context.Background(), tc.req)
			var e *apperr.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tc.want, e.Kind)
			assert.Equal(t, StageIngest, e.Stage)
			assert.EqualValues(t, 0, h.artifacts.acquired.Load())
			assert.EqualValues(t, 0, h.artifacts.released.Load())
		})
	}
}

func TestAnalyze_CancelDuringAnalysis(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{}, 2)
	h.o.Acoustic = analyzerFunc(func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
		started <- struct{}{}
		return blockUntilCanceled[[]types.AcousticSegment](ctx)
	})
	h.o.Transcriber = transcriberFunc(func(ctx context.Context, art types.Artifact) (types.Transcription, error) {
		started <- struct{}{}
		return blockUntilCanceled[types.Transcription](ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		<-started
		cancel()
	}()
	_, err := h.o.Analyze(ctx, request())
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))
	assert.EqualValues(t, 1, h.artifacts.released.Load())
	h.artifacts.assertAllGone(t)
}

func TestAnalyze_CancelDuringReasoning(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.o.Reasoner = reasonerFunc(func(ctx context.Context, in reasoning.Input) (types.Reasoning, error) {
		cancel()
		return blockUntilCanceled[types.Reasoning](ctx)
	})
	_, err := h.o.Analyze(ctx, request())
	assert.ErrorIs(t, err, &apperr.Error{Kind: apperr.KindCanceled, Stage: StageReasoning})
	assert.EqualValues(t, 1, h.artifacts.released.Load())
}

func collect(ch <-chan StageEvent) []StageEvent {
	var out []StageEvent
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestStream_MatchesAnalyze(t *testing.T) {
	h := newHarness(t)
	rep, err := h.o.Analyze(context.Background(), request())
	require.NoError(t, err)
	want, err := json.Marshal(rep)
	require.NoError(t, err)

	events := collect(h.o.Stream(context.Background(), request()))
	require.NotEmpty(t, events)

	assert.Equal(t, StageEvent{Stage: StageIngest, Status: StatusRunning, Message: events[0].Message}, events[0])
	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, StageComplete, last.Stage)
	assert.Equal(t, StatusDone, last.Status)

	got, err := json.Marshal(last.Result)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	// every stage that starts also finishes, and later stages follow the join
	pos := map[string]int{}
	for i, e := range events {
		pos[e.Stage+"/"+string(e.Status)] = i
		assert.NotEqual(t, StatusFailed, e.Status)
	}
	for _, s := range []string{StageIngest, StageAcoustic, StageTranscription, StageTimeCheck, StageRetrieval, StageReasoning, StageAssembly} {
		require.Contains(t, pos, s+"/running")
		require.Contains(t, pos, s+"/done")
		assert.Less(t, pos[s+"/running"], pos[s+"/done"], s)
	}
	assert.Less(t, pos[StageAcoustic+"/done"], pos[StageTimeCheck+"/running"])
	assert.Less(t, pos[StageTranscription+"/done"], pos[StageTimeCheck+"/running"])
	assert.Less(t, pos[StageReasoning+"/done"], pos[StageAssembly+"/running"])

	assert.EqualValues(t, 2, h.artifacts.released.Load())
}

func TestStream_ProgressDoesNotWaitForReader(t *testing.T) {
	h := newHarness(t)
	ch := h.o.Stream(context.Background(), request())

	// nobody reads yet; the run must still finish and release its artifact
	require.Eventually(t, func() bool { return h.artifacts.released.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	events := collect(ch)
	assert.Equal(t, StageComplete, events[len(events)-1].Stage)
}

func TestEventQueue_PreservesOrder(t *testing.T) {
	q := newEventQueue()
	out := make(chan StageEvent)
	go q.forward(context.Background(), out)
	for i := 0; i < 100; i++ {
		q.emit(StageEvent{Stage: "s", Message: string(rune('a' + i%26))})
	}
	q.close()
	q.emit(StageEvent{Stage: "after-close"})

	events := collect(out)
	require.Len(t, events, 100)
	for i, e := range events {
		assert.Equal(t, string(rune('a'+i%26)), e.Message)
	}
}

func TestEventQueue_CanceledReaderIsDropped(t *testing.T) {
	q := newEventQueue()
	q.grace = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan StageEvent)
	done := make(chan struct{})
	go func() {
		q.forward(ctx, out)
		close(done)
	}()
	for i := 0; i < 3; i++ {
		q.emit(StageEvent{Stage: "s"})
	}
	q.close()

	// nobody ever reads out
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder still blocked on an abandoned reader")
	}
	_, ok := <-out
	assert.False(t, ok, "channel closed")
}

func TestEventQueue_CanceledButReadingGetsEverything(t *testing.T) {
	q := newEventQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan StageEvent)
	go q.forward(ctx, out)
	for i := 0; i < 10; i++ {
		q.emit(StageEvent{Stage: "s"})
	}
	q.close()
	assert.Len(t, collect(out), 10)
}

func TestStream_AbandonedAfterCancel(t *testing.T) {
	prev := readerGrace
	readerGrace = 10 * time.Millisecond
	t.Cleanup(func() { readerGrace = prev })

	h := newHarness(t)
	started := make(chan struct{}, 2)
	h.o.Acoustic = analyzerFunc(func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
		started <- struct{}{}
		return blockUntilCanceled[[]types.AcousticSegment](ctx)
	})
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.o.Stream(ctx, request())
	<-started
	cancel()

	require.Eventually(t, func() bool { return h.artifacts.released.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.artifacts.assertAllGone(t)

	closed := false
	deadline := time.After(2 * time.Second)
	for !closed {
		select {
		case _, ok := <-ch:
			closed = !ok
		case <-deadline:
			t.Fatal("stream channel never closed")
		}
	}
}

func TestStream_CancelDuringAnalysis(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{}, 2)
	h.o.Acoustic = analyzerFunc(func(ctx context.Context, art types.Artifact) ([]types.AcousticSegment, error) {
		started <- struct{}{}
		return blockUntilCanceled[[]types.AcousticSegment](ctx)
	})
	h.o.Transcriber = transcriberFunc(func(ctx context.Context, art types.Artifact) (types.Transcription, error) {
		started <- struct{}{}
		return blockUntilCanceled[types.Transcription](ctx)
	})
	reasoned := false
	h.o.Reasoner = reasonerFunc(func(ctx context.Context, in reasoning.Input) (types.Reasoning, error) {
		reasoned = true
		return answer(), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		<-started
		cancel()
	}()
	events := collect(h.o.Stream(ctx, request()))
	require.NotEmpty(t, events)

	failed := 0
	for _, e := range events {
		if e.Status == StatusFailed {
			failed++
		}
		assert.NotEqual(t, StageComplete, e.Stage)
	}
	assert.Equal(t, 1, failed, "exactly one failed event")

	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, StatusFailed, last.Status)
	assert.Contains(t, []string{StageAcoustic, StageTranscription}, last.Stage)
	f, ok := last.Result.(*Failure)
	require.True(t, ok)
	assert.Equal(t, string(apperr.KindCanceled), f.Kind)

	assert.False(t, reasoned)
	assert.EqualValues(t, 1, h.artifacts.released.Load())
	h.artifacts.assertAllGone(t)
}
