// Package pipeline runs one call audit: ingest, concurrent acoustic analysis
// and transcription, calling-hours check, clause retrieval, reasoning and
// report assembly. Analyze and Stream share the same run; Stream only
// observes its transitions.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"vigilant-go/internal/acoustic"
	"vigilant-go/internal/apperr"
	"vigilant-go/internal/config"
	"vigilant-go/internal/metrics"
	"vigilant-go/internal/policy"
	"vigilant-go/internal/reasoning"
	"vigilant-go/internal/report"
	"vigilant-go/internal/transcription"
	"vigilant-go/internal/types"
)

const (
	StageIngest        = "ingest"
	StageAcoustic      = "acoustic"
	StageTranscription = "transcription"
	StageTimeCheck     = "time_check"
	StageRetrieval     = "retrieval"
	StageReasoning     = "reasoning"
	StageAssembly      = "assembly"
	StageComplete      = "complete"
)

const defaultConcurrency = 4

// Request is one audio upload with its optional tenant override.
type Request struct {
	Audio      []byte
	Format     string
	Override   *config.Override
	ReceivedAt time.Time
}

type Reasoner interface {
	Reason(ctx context.Context, in reasoning.Input) (types.Reasoning, error)
}

// Orchestrator holds the collaborators shared by every request. All fields
// are read-only once serving starts.
type Orchestrator struct {
	Acoustic    acoustic.Analyzer
	Transcriber transcription.Transcriber
	Clauses     policy.Store
	Reasoner    Reasoner
	Default     config.Config

	NewID       func() string
	Now         func() time.Time
	Artifacts   ArtifactStore
	UTCOffset   time.Duration
	K           int
	Concurrency int
	Log         *logrus.Entry
}

func New(ac acoustic.Analyzer, tr transcription.Transcriber, store policy.Store, rs Reasoner, def config.Config, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		Acoustic:    ac,
		Transcriber: tr,
		Clauses:     store,
		Reasoner:    rs,
		Default:     def,
		NewID:       NewRequestID,
		Now:         time.Now,
		Artifacts:   TempDirStore{},
		UTCOffset:   DefaultUTCOffset,
		K:           policy.DefaultK,
		Concurrency: defaultConcurrency,
		Log:         log.WithField("component", "pipeline"),
	}
}

// NewRequestID mints ids of the form REQ-1A2B3C-MA.
func NewRequestID() string {
	return "REQ-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6]) + "-MA"
}

// Analyze runs the pipeline and returns only the terminal outcome.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*types.AuditReport, error) {
	rep, err := o.run(ctx, req, discard{})
	observeOutcome("sync", err)
	return rep, err
}

// Stream runs the pipeline in the background and returns its stage events.
// The channel is closed after the terminal event. The run never waits for
// the reader. A reader that stops early must cancel ctx; the channel then
// closes once the run ends and undelivered events are dropped.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan StageEvent {
	q := newEventQueue()
	out := make(chan StageEvent)
	go q.forward(ctx, out)
	go func() {
		defer q.close()
		_, err := o.run(ctx, req, q)
		observeOutcome("stream", err)
	}()
	return out
}

func observeOutcome(mode string, err error) {
	result := "done"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	metrics.ObserveOutcome(mode, result)
}

// run is the state machine. Exactly one terminal event is emitted: the
// complete event, or the failed event of the stage that ended the run.
func (o *Orchestrator) run(ctx context.Context, req Request, ev emitter) (rep *types.AuditReport, err error) {
	start := o.Now()
	id := o.NewID()
	log := o.Log.WithField("req_id", id)
	defer metrics.TrackActive()()

	defer func() {
		if err == nil {
			return
		}
		e := apperr.AtStage(StageIngest, err)
		err = e
		metrics.ObserveFailure(e.Stage, string(e.Kind))
		ev.emit(StageEvent{
			Stage:   e.Stage,
			Status:  StatusFailed,
			Message: e.Message(),
			Result:  &Failure{Stage: e.Stage, Kind: string(e.Kind), Message: e.Message()},
		})
		log.WithField("stage", e.Stage).WithField("kind", e.Kind).WithError(e.Err).Warn("pipeline failed")
	}()

	// ingest
	ev.emit(StageEvent{Stage: StageIngest, Status: StatusRunning, Message: "Accepting audio and resolving configuration"})
	t := time.Now()
	if cerr := apperr.FromContext(ctx, StageIngest); cerr != nil {
		return nil, apperr.AtStage(StageIngest, cerr)
	}
	cfg, err := config.Resolve(o.Default, req.Override)
	if err != nil {
		return nil, apperr.AtStage(StageIngest, err)
	}
	format, err := DetectFormat(req.Format, req.Audio)
	if err != nil {
		return nil, apperr.AtStage(StageIngest, err)
	}
	art, err := o.Artifacts.Acquire(id, format, req.Audio)
	if err != nil {
		return nil, apperr.AtStage(StageIngest, apperr.Wrap(apperr.KindDecodeFailure, "artifact", err))
	}
	release := sync.OnceFunc(func() {
		if rerr := o.Artifacts.Release(art); rerr != nil {
			log.WithError(rerr).Warn("artifact release failed")
		}
	})
	defer release()

	callTime := req.ReceivedAt
	if callTime.IsZero() {
		callTime = start
	}
	o.done(ev, StageIngest, t, fmt.Sprintf("Accepted %s audio (%d bytes)", strings.TrimPrefix(format, "."), len(req.Audio)))
	log.WithField("format", format).WithField("bytes", len(req.Audio)).Info("request ingested")

	segs, tr, err := o.analyze(ctx, ev, art)
	if err != nil {
		return nil, err
	}

	ev.emit(StageEvent{Stage: StageTimeCheck, Status: StatusRunning, Message: "Checking calling hours"})
	t = time.Now()
	tc := CheckTime(callTime, o.UTCOffset)
	o.done(ev, StageTimeCheck, t, tc.Description)

	ev.emit(StageEvent{Stage: StageRetrieval, Status: StatusRunning, Message: "Retrieving relevant policy clauses"})
	t = time.Now()
	clauses, err := o.retrieve(ctx, tr, cfg)
	if err != nil {
		return nil, apperr.AtStage(StageRetrieval, err)
	}
	metrics.ObserveClauseSet(len(clauses.All))
	o.done(ev, StageRetrieval, t, fmt.Sprintf("%d clauses in context, %d retrieved as relevant", len(clauses.All), len(clauses.Relevant)))

	ev.emit(StageEvent{Stage: StageReasoning, Status: StatusRunning, Message: "Running compliance reasoning"})
	t = time.Now()
	res, err := o.Reasoner.Reason(ctx, reasoning.Input{
		Transcript: tr,
		Segments:   segs,
		Clauses:    clauses.All,
		Relevant:   clauses.Relevant,
		Config:     cfg,
		Time:       tc,
		CallTime:   callTime,
	})
	if err != nil {
		return nil, apperr.AtStage(StageReasoning, err)
	}
	o.done(ev, StageReasoning, t, fmt.Sprintf("%d policy violations reported", len(res.PolicyViolations)))

	ev.emit(StageEvent{Stage: StageAssembly, Status: StatusRunning, Message: "Assembling audit report"})
	t = time.Now()
	rep = report.Assemble(report.Inputs{
		RequestID:  id,
		CallTime:   callTime,
		Elapsed:    o.Now().Sub(start),
		Config:     cfg,
		Transcript: tr,
		Segments:   segs,
		Reasoning:  res,
		Time:       tc,
	})
	o.done(ev, StageAssembly, t, "Report assembled")

	// release before announcing completion so a finished stream never
	// leaves the artifact behind
	release()
	ev.emit(StageEvent{Stage: StageComplete, Status: StatusDone, Message: "Audit complete", Result: rep})
	log.WithField("violations", len(rep.ComplianceAudit.PolicyViolations)).Info("pipeline complete")
	return rep, nil
}

func (o *Orchestrator) done(ev emitter, stage string, since time.Time, msg string) {
	metrics.ObserveStage(stage, string(StatusDone), time.Since(since))
	ev.emit(StageEvent{Stage: stage, Status: StatusDone, Message: msg})
}

// analyze runs acoustic analysis and transcription concurrently and joins
// them. The first failure observed cancels the sibling and is the one
// reported; the sibling's later failure, induced or not, is discarded.
func (o *Orchestrator) analyze(ctx context.Context, ev emitter, art types.Artifact) ([]types.AcousticSegment, types.Transcription, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome, 2)

	var (
		segs []types.AcousticSegment
		tr   types.Transcription
	)

	ev.emit(StageEvent{Stage: StageAcoustic, Status: StatusRunning, Message: "Analyzing acoustic features"})
	ev.emit(StageEvent{Stage: StageTranscription, Status: StatusRunning, Message: "Transcribing conversation"})

	go func() {
		t := time.Now()
		s, err := o.Acoustic.Analyze(ctx, art)
		if err == nil {
			segs = s
			o.done(ev, StageAcoustic, t, fmt.Sprintf("%d acoustic segments", len(s)))
		}
		results <- outcome{StageAcoustic, err}
	}()
	go func() {
		t := time.Now()
		res, err := o.Transcriber.Transcribe(ctx, art)
		if err == nil {
			tr = res
			o.done(ev, StageTranscription, t, fmt.Sprintf("%d utterances in %s", len(res.Utterances), strings.Join(res.Languages, ", ")))
		}
		results <- outcome{StageTranscription, err}
	}()

	if f := firstFailure(results, 2, cancel); f.err != nil {
		return nil, types.Transcription{}, apperr.AtStage(f.stage, f.err)
	}
	return segs, tr, nil
}

type outcome struct {
	stage string
	err   error
}

// firstFailure receives n outcomes and returns the first failure in arrival
// order, calling cancel when it sees it. A genuine failure already waiting
// in results at that moment arrived together with it; transcription wins
// such a tie.
func firstFailure(results <-chan outcome, n int, cancel func()) outcome {
	var first outcome
	for received := 0; received < n; {
		r := <-results
		received++
		if r.err == nil || first.err != nil {
			continue
		}
		first = r
		if received < n {
			select {
			case other := <-results:
				received++
				if other.err != nil && other.stage == StageTranscription && apperr.KindOf(other.err) != apperr.KindCanceled {
					first = other
				}
			default:
			}
		}
		cancel()
	}
	return first
}

// retrieve queries the clause store once per query utterance with bounded
// concurrency and folds the answers into a ClauseSet.
func (o *Orchestrator) retrieve(ctx context.Context, tr types.Transcription, cfg config.Config) (ClauseSet, error) {
	queries := retrievalQueries(tr.Utterances)
	results := make([][]types.Clause, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	limit := o.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g.SetLimit(limit)
	for i, q := range queries {
		g.Go(func() error {
			cs, err := o.Clauses.Retrieve(gctx, q, o.K)
			if err != nil {
				return err
			}
			results[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if cerr := apperr.FromContext(ctx, StageRetrieval); cerr != nil {
			return ClauseSet{}, cerr
		}
		return ClauseSet{}, err
	}
	return MergeClauses(o.Clauses.AllClauses(), results, cfg.CustomRules), nil
}
