package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitline/internal/app"
	"permitline/internal/config"
	"permitline/internal/db"
	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/events"
	"permitline/internal/repo"
	"permitline/internal/sequence"
)

const (
	tech1 = "tec-1"
	tech2 = "tec-2"
	sup1  = "sup-1"
)

type recorder struct {
	mu      sync.Mutex
	permits []events.PermitNotification
	jobs    []events.JobNotification
}

func (r *recorder) NotifyPermit(_ context.Context, n events.PermitNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permits = append(r.permits, n)
}

func (r *recorder) NotifyJob(_ context.Context, n events.JobNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, n)
}

func (r *recorder) permitKinds() []events.PermitKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []events.PermitKind{}
	for _, n := range r.permits {
		out = append(out, n.Type)
	}
	return out
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Area   string
	Notes  *recorder
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Seed.Areas = []config.SeedArea{{Name: "Planta Norte"}}
	cfg.Seed.Users = []config.SeedUser{
		{ID: tech1, Email: "ana@example.com", Name: "Ana", Role: domain.RoleTechnician, Area: "Planta Norte"},
		{ID: tech2, Email: "luis@example.com", Name: "Luis", Role: domain.RoleTechnician},
		{ID: sup1, Email: "marta@example.com", Name: "Marta", Role: domain.RoleSupervisor},
	}
	return cfg
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	eng, err := app.Open(ctx, app.Options{Workspace: t.TempDir(), Config: testConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { eng.DB.Close() })

	var clockMu sync.Mutex
	clock := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	notes := &recorder{}
	eng.Notifier = notes
	return testEnv{Engine: eng, Ctx: ctx, Area: app.AreaID("Planta Norte"), Notes: notes}
}

func (env testEnv) newJob(t *testing.T, technician string) domain.Job {
	t.Helper()
	j, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{
		Title:        "Cambio de luminarias",
		AreaID:       env.Area,
		TechnicianID: technician,
	})
	require.NoError(t, err)
	return j
}

func (env testEnv) request(t *testing.T, jobID, step string) domain.Permit {
	t.Helper()
	p, err := env.Engine.CreatePermit(env.Ctx, engine.PermitCreateOptions{
		JobID:        jobID,
		TechnicianID: tech1,
		PermitTypeID: app.PermitTypeID(step),
	})
	require.NoError(t, err)
	return p
}

func (env testEnv) decide(t *testing.T, permitID, decision string) domain.Permit {
	t.Helper()
	p, err := env.Engine.AuthorizePermit(env.Ctx, engine.PermitAuthorizeOptions{
		PermitID:     permitID,
		SupervisorID: sup1,
		Decision:     decision,
	})
	require.NoError(t, err)
	return p
}

func stateReason(t *testing.T, err error) engine.InvalidStateError {
	t.Helper()
	var se engine.InvalidStateError
	require.True(t, errors.As(err, &se), "expected InvalidStateError, got %v", err)
	return se
}

func TestFullSequenceCompletesJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	assert.Equal(t, domain.JobAssigned, job.State)
	assert.Equal(t, sequence.Height, job.NextPermitType)

	p := env.request(t, job.ID, sequence.Height)
	assert.Equal(t, domain.PermitPending, p.State)
	assert.Equal(t, sequence.Height, p.PermitTypeName)
	assert.Equal(t, "Ana", p.TechnicianName)

	job, err := env.Engine.GetJob(env.Ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobInProcess, job.State)
	require.NotNil(t, job.StartedAt)

	for i, step := range []string{sequence.Height, sequence.Hookup, sequence.Closure} {
		if i > 0 {
			p = env.request(t, job.ID, step)
		}
		decided := env.decide(t, p.ID, domain.PermitApproved)
		assert.Equal(t, domain.PermitApproved, decided.State)
		require.NotNil(t, decided.SupervisorID)
		assert.Equal(t, sup1, *decided.SupervisorID)
		require.NotNil(t, decided.ReviewedAt)
	}

	job, err = env.Engine.GetJob(env.Ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, sequence.Finished, job.NextPermitType)
	assert.Equal(t, domain.JobCompleted, job.State)
	require.NotNil(t, job.FinishedAt)

	assert.Equal(t, []events.PermitKind{
		events.PermitNew, events.PermitUpdated,
		events.PermitNew, events.PermitUpdated,
		events.PermitNew, events.PermitUpdated,
	}, env.Notes.permitKinds())
}

func TestCreatePermitWrongPosition(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)

	_, err := env.Engine.CreatePermit(env.Ctx, engine.PermitCreateOptions{
		JobID: job.ID, TechnicianID: tech1, PermitTypeID: app.PermitTypeID(sequence.Hookup),
	})
	se := stateReason(t, err)
	assert.Equal(t, sequence.ReasonWrongPosition, se.Reason)
	assert.Equal(t, sequence.Height, se.Details["expected"])
	assert.Empty(t, env.Notes.permitKinds())
}

func TestDuplicatePendingPermit(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	env.request(t, job.ID, sequence.Height)

	_, err := env.Engine.CreatePermit(env.Ctx, engine.PermitCreateOptions{
		JobID: job.ID, TechnicianID: tech1, PermitTypeID: app.PermitTypeID(sequence.Height),
	})
	assert.Equal(t, sequence.ReasonDuplicatePending, stateReason(t, err).Reason)

	permits, err := env.Engine.ListPermitsByJob(env.Ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, permits, 1)
}

func TestRejectedPermitCanBeRequestedAgain(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	p := env.request(t, job.ID, sequence.Height)

	rejected := env.decide(t, p.ID, domain.PermitRejected)
	assert.Equal(t, domain.PermitRejected, rejected.State)

	job, err := env.Engine.GetJob(env.Ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, sequence.Height, job.NextPermitType)

	retry := env.request(t, job.ID, sequence.Height)
	assert.NotEqual(t, p.ID, retry.ID)
}

func TestAuthorizeTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	p := env.request(t, job.ID, sequence.Height)
	env.decide(t, p.ID, domain.PermitApproved)

	_, err := env.Engine.AuthorizePermit(env.Ctx, engine.PermitAuthorizeOptions{
		PermitID: p.ID, SupervisorID: sup1, Decision: domain.PermitRejected,
	})
	assert.Equal(t, engine.ReasonNotPending, stateReason(t, err).Reason)

	job, err = env.Engine.GetJob(env.Ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, sequence.Hookup, job.NextPermitType)
}

func TestAuthorizeRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	p := env.request(t, job.ID, sequence.Height)

	_, err := env.Engine.AuthorizePermit(env.Ctx, engine.PermitAuthorizeOptions{
		PermitID: p.ID, SupervisorID: sup1, Decision: "pendiente",
	})
	var ve engine.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = env.Engine.AuthorizePermit(env.Ctx, engine.PermitAuthorizeOptions{
		PermitID: p.ID, SupervisorID: tech2, Decision: domain.PermitApproved,
	})
	var ia engine.InvalidActorError
	assert.ErrorAs(t, err, &ia)

	_, err = env.Engine.AuthorizePermit(env.Ctx, engine.PermitAuthorizeOptions{
		PermitID: "missing", SupervisorID: sup1, Decision: domain.PermitApproved,
	})
	var nf engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "permiso", nf.Kind)

	got, err := env.Engine.GetPermit(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PermitPending, got.State)
}

func TestFinishedJobRejectsPermits(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	_, err := env.Engine.CancelJob(env.Ctx, job.ID, sup1, "")
	require.NoError(t, err)

	_, err = env.Engine.CreatePermit(env.Ctx, engine.PermitCreateOptions{
		JobID: job.ID, TechnicianID: tech1, PermitTypeID: app.PermitTypeID(sequence.Height),
	})
	assert.Equal(t, sequence.ReasonJobFinished, stateReason(t, err).Reason)
}

func TestCreatePermitUnknownReferences(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)

	_, err := env.Engine.CreatePermit(env.Ctx, engine.PermitCreateOptions{
		JobID: "nope", TechnicianID: tech1, PermitTypeID: app.PermitTypeID(sequence.Height),
	})
	var nf engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "trabajo", nf.Kind)

	_, err = env.Engine.CreatePermit(env.Ctx, engine.PermitCreateOptions{
		JobID: job.ID, TechnicianID: sup1, PermitTypeID: app.PermitTypeID(sequence.Height),
	})
	var ia engine.InvalidActorError
	assert.ErrorAs(t, err, &ia)

	_, err = env.Engine.CreatePermit(env.Ctx, engine.PermitCreateOptions{
		JobID: job.ID, TechnicianID: tech1, PermitTypeID: "unknown-type",
	})
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "tipo de permiso", nf.Kind)
}

func TestStartJobApproval(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)

	_, err := env.Engine.StartJob(env.Ctx, engine.StartJobOptions{JobID: job.ID, TechnicianID: tech2})
	var ia engine.InvalidActorError
	require.ErrorAs(t, err, &ia)
	assert.Equal(t, engine.ReasonNotAuthorizedOnJob, ia.Reason)

	status, err := env.Engine.StartJob(env.Ctx, engine.StartJobOptions{
		JobID: job.ID, TechnicianID: tech1, PhotoRef: "fotos/inicio.jpg", Comments: "Listo para comenzar",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobPendingApproval, status.State)
	assert.False(t, status.Approved)
	require.NotNil(t, status.RequestedAt)
	assert.Contains(t, status.Comments, "fotos/inicio.jpg")

	pending := env.Engine.ListPendingApproval(env.Ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)

	_, err = env.Engine.StartJob(env.Ctx, engine.StartJobOptions{JobID: job.ID, TechnicianID: tech1})
	assert.Equal(t, engine.ReasonCannotStart, stateReason(t, err).Reason)

	status, err = env.Engine.DecideJobStart(env.Ctx, engine.DecideJobStartOptions{
		JobID: job.ID, SupervisorID: sup1, Approved: true, Comments: "Adelante",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobInProcess, status.State)
	assert.True(t, status.Approved)
	assert.Contains(t, status.Comments, "Aprobado por supervisor Marta")
	assert.Empty(t, env.Engine.ListPendingApproval(env.Ctx))

	require.Len(t, env.Notes.jobs, 2)
	assert.Equal(t, events.JobStarted, env.Notes.jobs[0].Type)
	assert.Equal(t, events.JobApproved, env.Notes.jobs[1].Type)
	assert.Equal(t, domain.JobInProcess, env.Notes.jobs[1].Trabajo.Estado)
}

func TestStartJobRejected(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	_, err := env.Engine.StartJob(env.Ctx, engine.StartJobOptions{JobID: job.ID, TechnicianID: tech1})
	require.NoError(t, err)

	status, err := env.Engine.DecideJobStart(env.Ctx, engine.DecideJobStartOptions{JobID: job.ID, SupervisorID: sup1})
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, status.State)
	assert.True(t, status.Rejected)
	require.NotNil(t, status.RejectionReason)
	assert.Equal(t, "Sin motivo especificado", *status.RejectionReason)

	_, err = env.Engine.DecideJobStart(env.Ctx, engine.DecideJobStartOptions{JobID: job.ID, SupervisorID: sup1, Approved: true})
	assert.Equal(t, engine.ReasonNotAwaitingStart, stateReason(t, err).Reason)
	assert.Equal(t, events.JobRejected, env.Notes.jobs[len(env.Notes.jobs)-1].Type)
}

func TestPermitWhileAwaitingStartKeepsState(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	_, err := env.Engine.StartJob(env.Ctx, engine.StartJobOptions{JobID: job.ID, TechnicianID: tech1})
	require.NoError(t, err)

	p := env.request(t, job.ID, sequence.Height)
	env.decide(t, p.ID, domain.PermitApproved)

	job, err = env.Engine.GetJob(env.Ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPendingApproval, job.State)
	assert.Equal(t, sequence.Hookup, job.NextPermitType)
}

func TestAssignAndCancelJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, "")
	assert.Equal(t, domain.JobPending, job.State)
	assert.Nil(t, job.TechnicianID)

	job, err := env.Engine.AssignJob(env.Ctx, job.ID, tech2)
	require.NoError(t, err)
	assert.Equal(t, domain.JobAssigned, job.State)
	assert.Equal(t, "Luis", job.TechnicianName)

	_, err = env.Engine.AssignJob(env.Ctx, job.ID, sup1)
	var ia engine.InvalidActorError
	assert.ErrorAs(t, err, &ia)

	job, err = env.Engine.CancelJob(env.Ctx, job.ID, sup1, "Lluvia")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, job.State)
	require.NotNil(t, job.RejectionReason)
	assert.Equal(t, "Lluvia", *job.RejectionReason)

	_, err = env.Engine.CancelJob(env.Ctx, job.ID, sup1, "")
	assert.Equal(t, sequence.ReasonJobFinished, stateReason(t, err).Reason)
	_, err = env.Engine.AssignJob(env.Ctx, job.ID, tech1)
	assert.Equal(t, engine.ReasonCannotAssign, stateReason(t, err).Reason)
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{AreaID: env.Area})
	var ve engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "titulo", ve.Field)

	_, err = env.Engine.CreateJob(env.Ctx, engine.JobCreateOptions{Title: "x", AreaID: "nowhere"})
	var nf engine.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "area", nf.Kind)
}

func TestListPendingPermitsFilters(t *testing.T) {
	env := newTestEnv(t)
	first := env.newJob(t, tech1)
	second := env.newJob(t, tech1)
	a := env.request(t, first.ID, sequence.Height)
	b := env.request(t, second.ID, sequence.Height)
	env.decide(t, a.ID, domain.PermitApproved)

	pending, err := env.Engine.ListPendingPermits(env.Ctx, engine.PendingPermitFilters{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	approved, err := env.Engine.ListPendingPermits(env.Ctx, engine.PendingPermitFilters{State: domain.PermitApproved, AreaID: env.Area})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, a.ID, approved[0].ID)

	none, err := env.Engine.ListPendingPermits(env.Ctx, engine.PendingPermitFilters{SubmittedFrom: "2030-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = env.Engine.ListPendingPermits(env.Ctx, engine.PendingPermitFilters{State: "otro"})
	var ve engine.ValidationError
	assert.ErrorAs(t, err, &ve)

	mine, err := env.Engine.ListPermitsByTechnician(env.Ctx, tech1)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	assert.Equal(t, b.ID, mine[0].ID)

	_, err = env.Engine.ListPermitsByJob(env.Ctx, "missing")
	var nf engine.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestListPendingApprovalDegradesOnStoreError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	eng, err := engine.New(conn, db.SQLite, nil)
	require.NoError(t, err)
	jobs := eng.ListPendingApproval(context.Background())
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsBadSequence(t *testing.T) {
	cfg := config.Default()
	cfg.Sequence.Order = []string{"altura", "altura"}
	_, err := engine.New(nil, db.SQLite, cfg)
	assert.Error(t, err)
}

func TestApprovalAfterCancelLeavesJobUntouched(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	p := env.request(t, job.ID, sequence.Height)

	cancelled, err := env.Engine.CancelJob(env.Ctx, job.ID, sup1, "Tormenta")
	require.NoError(t, err)
	require.Equal(t, domain.JobCancelled, cancelled.State)

	decided := env.decide(t, p.ID, domain.PermitApproved)
	assert.Equal(t, domain.PermitApproved, decided.State)

	after, err := env.Engine.GetJob(env.Ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, after.State)
	assert.Equal(t, sequence.Height, after.NextPermitType)
	assert.Nil(t, after.FinishedAt)
}

func TestPendingPermitUniqueInStore(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)
	first := env.request(t, job.ID, sequence.Height)

	dup := first
	dup.ID = "duplicate-" + first.ID
	err := env.Engine.Repo.InsertPermit(env.Ctx, nil, dup)
	assert.ErrorIs(t, err, repo.ErrConflict)

	env.decide(t, first.ID, domain.PermitRejected)
	retry := first
	retry.ID = "retry-" + first.ID
	assert.NoError(t, env.Engine.Repo.InsertPermit(env.Ctx, nil, retry))
}

func TestConcurrentPermitRequests(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t, tech1)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CreatePermit(env.Ctx, engine.PermitCreateOptions{
				JobID:        job.ID,
				TechnicianID: tech1,
				PermitTypeID: app.PermitTypeID(sequence.Height),
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var se engine.InvalidStateError
		if assert.True(t, errors.As(err, &se), "unexpected error %v", err) {
			assert.Equal(t, sequence.ReasonDuplicatePending, se.Reason)
		}
	}
	assert.Equal(t, 1, ok)

	pending, err := env.Engine.ListPermitsByJob(env.Ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
