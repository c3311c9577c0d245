package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"permitline/internal/domain"
	"permitline/internal/events"
	"permitline/internal/repo"
	"permitline/internal/sequence"
)

// JobCreateOptions are parameters for creating a job.
type JobCreateOptions struct {
	Title        string
	Description  string
	AreaID       string
	TechnicianID string
	ScheduledAt  string
	Comments     string
}

func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Job{}, ValidationError{Field: "titulo", Reason: "is required"}
	}
	if strings.TrimSpace(opts.AreaID) == "" {
		return domain.Job{}, ValidationError{Field: "areaId", Reason: "is required"}
	}
	now := e.timestamp()
	j := domain.Job{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(opts.Title),
		Description:    opts.Description,
		AreaID:         opts.AreaID,
		State:          domain.JobPending,
		NextPermitType: e.Policy.First(),
		ScheduledAt:    optionalString(opts.ScheduledAt),
		Comments:       strings.TrimSpace(opts.Comments),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := e.Repo.GetArea(ctx, opts.AreaID); err != nil {
		return domain.Job{}, lookupErr(err, "area", opts.AreaID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	if opts.TechnicianID != "" {
		if _, err := e.Auth.RequireRole(ctx, tx, opts.TechnicianID, domain.RoleTechnician); err != nil {
			return domain.Job{}, lookupErr(err, "tecnico", opts.TechnicianID)
		}
		j.TechnicianID = &opts.TechnicianID
		j.State = domain.JobAssigned
	}
	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	e.Metrics.JobTransition(j.State)
	e.log().Info("job created", zap.String("job_id", j.ID), zap.String("state", j.State), zap.String("area_id", j.AreaID))
	return e.Repo.GetJob(ctx, j.ID)
}

// AssignJob sets or replaces the technician of a job that has not started.
func (e Engine) AssignJob(ctx context.Context, jobID, technicianID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, lookupErr(err, "trabajo", jobID)
	}
	if j.State != domain.JobPending && j.State != domain.JobAssigned {
		return domain.Job{}, InvalidStateError{Reason: ReasonCannotAssign, Details: map[string]any{"estado": j.State}}
	}
	if _, err := e.Auth.RequireRole(ctx, tx, technicianID, domain.RoleTechnician); err != nil {
		return domain.Job{}, lookupErr(err, "tecnico", technicianID)
	}
	j.TechnicianID = &technicianID
	j.State = domain.JobAssigned
	j.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateJob(ctx, tx, j); err != nil {
		return domain.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	e.Metrics.JobTransition(j.State)
	e.log().Info("job assigned", zap.String("job_id", j.ID), zap.String("technician_id", technicianID))
	return e.Repo.GetJob(ctx, j.ID)
}

// CancelJob moves a non-terminal job to cancelado.
func (e Engine) CancelJob(ctx context.Context, jobID, supervisorID, reason string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	sup, err := e.Auth.RequireRole(ctx, tx, supervisorID, domain.RoleSupervisor)
	if err != nil {
		return domain.Job{}, lookupErr(err, "supervisor", supervisorID)
	}
	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, lookupErr(err, "trabajo", jobID)
	}
	if domain.JobTerminal(j.State) {
		return domain.Job{}, InvalidStateError{Reason: sequence.ReasonJobFinished, Details: map[string]any{"estado": j.State}}
	}
	now := e.timestamp()
	if strings.TrimSpace(reason) == "" {
		reason = noReason
	}
	j.State = domain.JobCancelled
	j.RejectionReason = &reason
	j.Comments = appendComment(j.Comments, fmt.Sprintf("Cancelado por supervisor %s - %s\nMotivo: %s", sup.Name, now, reason))
	j.UpdatedAt = now
	if err := e.Repo.UpdateJob(ctx, tx, j); err != nil {
		return domain.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	e.Metrics.JobTransition(j.State)
	e.log().Info("job cancelled", zap.String("job_id", j.ID), zap.String("supervisor_id", supervisorID))
	return e.Repo.GetJob(ctx, j.ID)
}

const noReason = "Sin motivo especificado"

// StartJobOptions carry a technician's request to start a job.
type StartJobOptions struct {
	JobID        string
	TechnicianID string
	PhotoRef     string
	Comments     string
}

// StartJob puts an assigned job on hold for supervisor approval.
func (e Engine) StartJob(ctx context.Context, opts StartJobOptions) (domain.JobStartStatus, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JobStartStatus{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, opts.JobID)
	if err != nil {
		return domain.JobStartStatus{}, lookupErr(err, "trabajo", opts.JobID)
	}
	if j.TechnicianID == nil || *j.TechnicianID != opts.TechnicianID {
		return domain.JobStartStatus{}, InvalidActorError{ActorID: opts.TechnicianID, Reason: ReasonNotAuthorizedOnJob}
	}
	if j.State != domain.JobAssigned && j.State != domain.JobPending {
		return domain.JobStartStatus{}, InvalidStateError{Reason: ReasonCannotStart, Details: map[string]any{"estado": j.State}}
	}
	tech, err := e.Auth.RequireRole(ctx, tx, opts.TechnicianID, domain.RoleTechnician)
	if err != nil {
		return domain.JobStartStatus{}, lookupErr(err, "tecnico", opts.TechnicianID)
	}
	now := e.timestamp()
	j.Comments = appendComment(j.Comments, opts.Comments)
	if ref := strings.TrimSpace(opts.PhotoRef); ref != "" {
		j.Comments = appendComment(j.Comments, "Foto inicial: "+ref)
	}
	j.State = domain.JobPendingApproval
	j.StartedAt = &now
	j.UpdatedAt = now
	if err := e.Repo.UpdateJob(ctx, tx, j); err != nil {
		return domain.JobStartStatus{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.JobStartStatus{}, err
	}
	e.Metrics.JobTransition(j.State)
	e.log().Info("job start requested", zap.String("job_id", j.ID), zap.String("technician_id", tech.ID))

	j = e.reloadJob(ctx, j)
	e.notifier().NotifyJob(ctx, events.JobNotification{
		Type:    events.JobStarted,
		Trabajo: events.JobPayloadOf(j),
		Message: fmt.Sprintf("%s solicitó iniciar el trabajo %q.", tech.Name, j.Title),
	})
	return domain.StartStatusOf(j), nil
}

// DecideJobStartOptions carry a supervisor's verdict on a start request.
type DecideJobStartOptions struct {
	JobID        string
	SupervisorID string
	Approved     bool
	Comments     string
}

func (e Engine) DecideJobStart(ctx context.Context, opts DecideJobStartOptions) (domain.JobStartStatus, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.JobStartStatus{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, opts.JobID)
	if err != nil {
		return domain.JobStartStatus{}, lookupErr(err, "trabajo", opts.JobID)
	}
	if j.State != domain.JobPendingApproval {
		return domain.JobStartStatus{}, InvalidStateError{Reason: ReasonNotAwaitingStart, Details: map[string]any{"estado": j.State}}
	}
	sup, err := e.Auth.RequireRole(ctx, tx, opts.SupervisorID, domain.RoleSupervisor)
	if err != nil {
		return domain.JobStartStatus{}, lookupErr(err, "supervisor", opts.SupervisorID)
	}
	now := e.timestamp()
	kind := events.JobApproved
	verb := "aprobado"
	if opts.Approved {
		j.State = domain.JobInProcess
		line := fmt.Sprintf("Aprobado por supervisor %s - %s", sup.Name, now)
		if c := strings.TrimSpace(opts.Comments); c != "" {
			line += "\n" + c
		}
		j.Comments = appendComment(j.Comments, line)
	} else {
		kind = events.JobRejected
		verb = "rechazado"
		reason := strings.TrimSpace(opts.Comments)
		if reason == "" {
			reason = noReason
		}
		j.State = domain.JobCancelled
		j.RejectionReason = &reason
		j.Comments = appendComment(j.Comments, fmt.Sprintf("Rechazado por supervisor %s - %s\nMotivo: %s", sup.Name, now, reason))
	}
	j.UpdatedAt = now
	if err := e.Repo.UpdateJob(ctx, tx, j); err != nil {
		return domain.JobStartStatus{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.JobStartStatus{}, err
	}
	e.Metrics.JobTransition(j.State)
	e.log().Info("job start decided", zap.String("job_id", j.ID), zap.Bool("approved", opts.Approved), zap.String("supervisor_id", sup.ID))

	j = e.reloadJob(ctx, j)
	e.notifier().NotifyJob(ctx, events.JobNotification{
		Type:    kind,
		Trabajo: events.JobPayloadOf(j),
		Message: fmt.Sprintf("El inicio del trabajo %q fue %s por %s.", j.Title, verb, sup.Name),
	})
	return domain.StartStatusOf(j), nil
}

// reloadJob re-reads a committed job with its joined names, falling back to
// the in-memory copy.
func (e Engine) reloadJob(ctx context.Context, j domain.Job) domain.Job {
	fresh, err := e.Repo.GetJob(ctx, j.ID)
	if err != nil {
		e.log().Warn("reload job after commit", zap.String("job_id", j.ID), zap.Error(err))
		return j
	}
	return fresh
}

// advanceOnPermitApproval applies an approved permit to its job: a first-step
// approval starts an unstarted job, the cursor moves forward and approving
// the last step completes the job. It reports whether the job changed.
func (e Engine) advanceOnPermitApproval(j *domain.Job, approved, now string) bool {
	if domain.JobTerminal(j.State) {
		return false
	}
	changed := e.startOnFirstStep(j, approved, now)
	next := e.Policy.Advance(j.NextPermitType, approved)
	if next != j.NextPermitType {
		j.NextPermitType = next
		changed = true
	}
	if approved == e.Policy.Last() && j.NextPermitType == sequence.Finished {
		j.State = domain.JobCompleted
		j.FinishedAt = &now
		changed = true
	}
	if changed {
		j.UpdatedAt = now
	}
	return changed
}

// startOnFirstStep moves a pending or assigned job into progress when step is
// the first of the sequence.
func (e Engine) startOnFirstStep(j *domain.Job, step, now string) bool {
	if step != e.Policy.First() {
		return false
	}
	if j.State != domain.JobPending && j.State != domain.JobAssigned {
		return false
	}
	j.State = domain.JobInProcess
	j.StartedAt = &now
	j.UpdatedAt = now
	return true
}

func (e Engine) GetJob(ctx context.Context, id string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, id)
	return j, lookupErr(err, "trabajo", id)
}

func (e Engine) ListJobs(ctx context.Context, f repo.JobFilters) ([]domain.Job, error) {
	return e.Repo.ListJobs(ctx, f)
}

func (e Engine) JobStartStatus(ctx context.Context, id string) (domain.JobStartStatus, error) {
	j, err := e.GetJob(ctx, id)
	if err != nil {
		return domain.JobStartStatus{}, err
	}
	return domain.StartStatusOf(j), nil
}

// ListPendingApproval returns jobs awaiting a start decision, oldest request
// first. Store errors yield an empty list.
func (e Engine) ListPendingApproval(ctx context.Context) []domain.Job {
	jobs, err := e.Repo.ListJobs(ctx, repo.JobFilters{State: domain.JobPendingApproval, OldestStartFirst: true})
	if err != nil {
		e.log().Warn("list pending approval failed", zap.Error(err))
		return []domain.Job{}
	}
	return jobs
}
