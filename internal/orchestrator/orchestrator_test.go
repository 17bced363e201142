package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/rfpstudio/internal/agents"
	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/embeddings"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/lock"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/router"
	"github.com/Kocoro-lab/rfpstudio/internal/store"
	"github.com/Kocoro-lab/rfpstudio/internal/vectordb"
)

type stubAgent struct {
	kind agents.Kind
	run  func(ctx context.Context, in agents.Input) agents.Result
}

func (s stubAgent) Name() agents.Kind { return s.kind }
func (s stubAgent) Run(ctx context.Context, in agents.Input) agents.Result {
	return s.run(ctx, in)
}

func suggesting(kind agents.Kind, next lifecycle.State) stubAgent {
	return stubAgent{kind: kind, run: func(_ context.Context, in agents.Input) agents.Result {
		return agents.Result{Success: true, Message: "ok", RecordID: in.RecordID, NextState: &next}
	}}
}

type recordingObserver struct {
	mu      sync.Mutex
	steps   []StepOutcome
	commits int
	lastErr error
}

func (o *recordingObserver) OnStep(_ context.Context, _ *State, step StepOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, step)
}

func (o *recordingObserver) OnCommit(_ context.Context, _ *State, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits++
	o.lastErr = err
}

func agentDeps(t *testing.T, st store.RecordStore) agents.Deps {
	return agents.Deps{
		Store:    st,
		Embedder: embeddings.NewHashing(64),
		Router:   router.New(vectordb.NewMemoryCorpus(), router.Config{}, zaptest.NewLogger(t)),
		Logger:   zaptest.NewLogger(t),
	}
}

func buildPipeline(t *testing.T, st store.RecordStore, opts Options, obs Observer, kinds ...agents.Kind) *Pipeline {
	t.Helper()
	steps := make([]agents.Agent, 0, len(kinds))
	for _, k := range kinds {
		a, err := agents.New(k, agentDeps(t, st))
		require.NoError(t, err)
		steps = append(steps, a)
	}
	p, err := New("test", steps, Deps{Store: st, Locker: lock.NewKeyedMutex(), Logger: zaptest.NewLogger(t), Observer: obs, Options: opts})
	require.NoError(t, err)
	return p
}

func insertRecord(t *testing.T, st store.RecordStore, status lifecycle.State) string {
	t.Helper()
	id, err := st.InsertRecord(context.Background(), &models.Record{Title: "RFP", Status: status, Client: models.Client{Name: "Acme"}})
	require.NoError(t, err)
	return id
}

func TestIntakeRunAdvancesNewRecord(t *testing.T) {
	st := store.NewMemoryStore()
	obs := &recordingObserver{}
	p := buildPipeline(t, st, Options{}, obs, agents.KindIntake)

	s, err := p.Run(context.Background(), Request{Payload: map[string]interface{}{
		"title":       "Cloud RFP",
		"client_name": "Acme",
	}})
	require.NoError(t, err)
	require.NotEmpty(t, s.RecordID)
	require.NotNil(t, s.NextState)
	assert.Equal(t, lifecycle.LinkedToRecord, *s.NextState)
	require.NotNil(t, s.Transition)
	assert.True(t, s.Transition.Applied)
	assert.Equal(t, lifecycle.Initiated, s.Transition.From)

	rec, err := st.FindRecord(context.Background(), s.RecordID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.LinkedToRecord, rec.Status)
	require.Len(t, rec.History, 1)
	assert.Equal(t, agents.EventRecordCreated, rec.History[0].Type)

	assert.Len(t, obs.steps, 1)
	assert.Equal(t, 1, obs.commits)
	assert.NoError(t, obs.lastErr)
}

func TestCommitIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	id := insertRecord(t, st, lifecycle.QualityReview)
	c := NewCommitter(st, lock.NewKeyedMutex(), zaptest.NewLogger(t), Options{})
	next := lifecycle.Final

	first := State{RunID: "r1", RecordID: id, NextState: &next}
	require.NoError(t, c.Commit(context.Background(), &first))
	assert.True(t, first.Transition.Applied)

	second := State{RunID: "r1", RecordID: id, NextState: &next}
	require.NoError(t, c.Commit(context.Background(), &second))
	assert.False(t, second.Transition.Applied)
	assert.NotEmpty(t, second.Transition.Reason)

	rec, err := st.FindRecord(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Final, rec.Status)
}

func TestIllegalTransitionIsSilentByDefault(t *testing.T) {
	st := store.NewMemoryStore()
	id := insertRecord(t, st, lifecycle.BDMReview)
	p, err := New("jump", []agents.Agent{suggesting(agents.KindQuality, lifecycle.Final)}, Deps{Store: st})
	require.NoError(t, err)

	s, err := p.Run(context.Background(), Request{RecordID: id})
	require.NoError(t, err)
	require.NotNil(t, s.Transition)
	assert.False(t, s.Transition.Applied)
	assert.Equal(t, lifecycle.BDMReview, s.Transition.From)

	rec, _ := st.FindRecord(context.Background(), id)
	assert.Equal(t, lifecycle.BDMReview, rec.Status)
}

func TestStrictTransitionsRejects(t *testing.T) {
	st := store.NewMemoryStore()
	id := insertRecord(t, st, lifecycle.BDMReview)
	p, err := New("jump", []agents.Agent{suggesting(agents.KindQuality, lifecycle.Final)}, Deps{Store: st, Options: Options{StrictTransitions: true}})
	require.NoError(t, err)

	s, err := p.Run(context.Background(), Request{RecordID: id})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransitionRejected))
	assert.Equal(t, apperrors.KindTransitionRejected, apperrors.Kind(err))
	require.NotNil(t, s)
	assert.False(t, s.Transition.Applied)
}

func TestInvalidRecordIDDoesNotStopPipeline(t *testing.T) {
	st := store.NewMemoryStore()
	p := buildPipeline(t, st, Options{}, nil, agents.KindIntake, agents.KindBreakdown)

	s, err := p.Run(context.Background(), Request{
		RecordID: "not-an-id",
		Payload:  map[string]interface{}{"title": "x", "sections": []interface{}{map[string]interface{}{"title": "Security"}}},
	})
	require.Len(t, s.Steps, 2)
	assert.False(t, s.Steps[0].Success)
	assert.False(t, s.Steps[1].Success)
	assert.Contains(t, s.Steps[1].Message, "invalid identifier")

	// the commit cannot load the record either
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidIdentifier))
}

func TestKickoffPipelineEndToEnd(t *testing.T) {
	st := store.NewMemoryStore()
	reg, err := NewRegistry(nil, agentDeps(t, st), Deps{Store: st, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	p, err := reg.Get("kickoff")
	require.NoError(t, err)
	assert.Equal(t, []agents.Kind{agents.KindIntake, agents.KindBreakdown, agents.KindRouting}, p.Kinds())

	s, err := p.Run(context.Background(), Request{Payload: map[string]interface{}{
		"title":       "Cloud RFP",
		"client_name": "Acme",
		"sections": []interface{}{
			map[string]interface{}{"title": "Security"},
			map[string]interface{}{"title": "Pricing"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, s.Steps, 3)
	assert.True(t, s.Steps[0].Success)
	assert.True(t, s.Steps[1].Success)
	// routing has no questions in this payload
	assert.False(t, s.Steps[2].Success)
	assert.False(t, s.LastSuccess)

	// breakdown's suggestion overrides intake's, and is not legal from INITIATED
	require.NotNil(t, s.NextState)
	assert.Equal(t, lifecycle.Breakdown, *s.NextState)
	assert.False(t, s.Transition.Applied)

	items, err := st.ListWorkItems(context.Background(), s.RecordID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	rec, _ := st.FindRecord(context.Background(), s.RecordID)
	assert.Len(t, rec.History, 2)
}

func TestCancelledRunCommitsNothing(t *testing.T) {
	st := store.NewMemoryStore()
	id := insertRecord(t, st, lifecycle.Initiated)
	ctx, cancel := context.WithCancel(context.Background())

	first := stubAgent{kind: agents.KindIntake, run: func(_ context.Context, in agents.Input) agents.Result {
		cancel()
		next := lifecycle.LinkedToRecord
		return agents.Result{Success: true, RecordID: in.RecordID, NextState: &next}
	}}
	second := suggesting(agents.KindBreakdown, lifecycle.LinkedToRecord)
	p, err := New("cancel", []agents.Agent{first, second}, Deps{Store: st})
	require.NoError(t, err)

	s, err := p.Run(ctx, Request{RecordID: id})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, s.Steps, 1)
	assert.Nil(t, s.Transition)

	rec, _ := st.FindRecord(context.Background(), id)
	assert.Equal(t, lifecycle.Initiated, rec.Status)
	assert.Empty(t, rec.History)
}

func TestCommitWaitsForRecordLock(t *testing.T) {
	st := store.NewMemoryStore()
	id := insertRecord(t, st, lifecycle.Initiated)
	locker := lock.NewKeyedMutex()
	release, err := locker.Acquire(context.Background(), LockKey(id))
	require.NoError(t, err)
	defer release()

	c := NewCommitter(st, locker, zaptest.NewLogger(t), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	next := lifecycle.LinkedToRecord
	err = c.Commit(ctx, &State{RecordID: id, NextState: &next})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCommitWithoutRecordIsNoop(t *testing.T) {
	c := NewCommitter(store.NewMemoryStore(), nil, nil, Options{})
	s := &State{RunID: "r"}
	require.NoError(t, c.Commit(context.Background(), s))
	assert.Nil(t, s.Transition)
}

func TestFold(t *testing.T) {
	linked := lifecycle.LinkedToRecord
	breakdown := lifecycle.Breakdown
	base := State{RunID: "r"}

	s1 := Fold(base, agents.KindIntake, agents.Result{
		Success:   true,
		Message:   "created",
		RecordID:  "rec-1",
		NextState: &linked,
		Changes:   map[string]interface{}{"record_id": "rec-1"},
		Events: map[string]models.Event{
			"zeta":  {Type: "Z"},
			"alpha": {Type: "A"},
		},
	})
	assert.Empty(t, base.Steps)
	assert.Empty(t, base.Events)
	assert.Equal(t, "rec-1", s1.RecordID)
	require.Len(t, s1.Events, 2)
	assert.Equal(t, "A", s1.Events[0].Type)
	assert.Equal(t, "Z", s1.Events[1].Type)
	assert.Equal(t, 2, s1.Steps[0].Events)

	s2 := Fold(s1, agents.KindBreakdown, agents.Result{Success: false, Message: "nope", RecordID: "rec-2", NextState: &breakdown})
	assert.Equal(t, "rec-1", s2.RecordID)
	assert.Equal(t, lifecycle.Breakdown, *s2.NextState)
	assert.Equal(t, lifecycle.LinkedToRecord, *s1.NextState)
	assert.False(t, s2.LastSuccess)
	assert.Equal(t, "nope", s2.LastMessage)
	assert.Len(t, s2.Changes, 2)
	assert.Len(t, s1.Changes, 1)

	s3 := Fold(s2, agents.KindRouting, agents.Result{Success: true})
	assert.Equal(t, lifecycle.Breakdown, *s3.NextState)
}

func TestNewRejectsEmptyPipeline(t *testing.T) {
	_, err := New("empty", nil, Deps{Store: store.NewMemoryStore()})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestRegistrySharesDefaultLocker(t *testing.T) {
	st := store.NewMemoryStore()
	reg, err := NewRegistry(nil, agentDeps(t, st), Deps{Store: st})
	require.NoError(t, err)

	intake, err := reg.Get("intake")
	require.NoError(t, err)
	kickoff, err := reg.Get("kickoff")
	require.NoError(t, err)
	require.NotNil(t, intake.committer.locker)
	assert.Same(t, intake.committer.locker, kickoff.committer.locker)
}

func TestRegistry(t *testing.T) {
	st := store.NewMemoryStore()
	reg, err := NewRegistry(nil, agentDeps(t, st), Deps{Store: st})
	require.NoError(t, err)
	assert.Equal(t, []string{"breakdown", "compliance", "drafting", "intake", "kickoff", "quality", "routing"}, reg.Names())

	_, err = reg.Get("missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = NewRegistry(map[string][]string{"bad": {"intake", "translate"}}, agentDeps(t, st), Deps{Store: st})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	reg, err = NewRegistry(map[string][]string{"review": {"compliance", "quality"}}, agentDeps(t, st), Deps{Store: st})
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, reg.Names())
}
