package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"permitline/internal/domain"
	"permitline/internal/events"
	"permitline/internal/repo"
	"permitline/internal/sequence"
)

// PermitCreateOptions are parameters for requesting a permit.
type PermitCreateOptions struct {
	JobID        string
	TechnicianID string
	PermitTypeID string
	PhotoRef     string
	Comments     string
}

// CreatePermit requests the next permit in a job's sequence.
func (e Engine) CreatePermit(ctx context.Context, opts PermitCreateOptions) (domain.Permit, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, opts.JobID)
	if err != nil {
		return domain.Permit{}, lookupErr(err, "trabajo", opts.JobID)
	}
	tech, err := e.Auth.RequireRole(ctx, tx, opts.TechnicianID, domain.RoleTechnician)
	if err != nil {
		return domain.Permit{}, lookupErr(err, "tecnico", opts.TechnicianID)
	}
	pt, err := e.Repo.GetPermitTypeTx(ctx, tx, opts.PermitTypeID)
	if err != nil {
		return domain.Permit{}, lookupErr(err, "tipo de permiso", opts.PermitTypeID)
	}
	pending, err := e.Repo.HasPendingPermit(ctx, tx, j.ID, pt.ID)
	if err != nil {
		return domain.Permit{}, err
	}
	if err := e.Policy.ValidateCreation(j, pt.Name, pending); err != nil {
		return domain.Permit{}, rejectionErr(err)
	}

	now := e.timestamp()
	startedJob := e.startOnFirstStep(&j, pt.Name, now)
	if startedJob {
		if err := e.Repo.UpdateJob(ctx, tx, j); err != nil {
			return domain.Permit{}, fmt.Errorf("update job: %w", err)
		}
	}
	p := domain.Permit{
		ID:                 uuid.NewString(),
		JobID:              j.ID,
		TechnicianID:       tech.ID,
		PermitTypeID:       pt.ID,
		State:              domain.PermitPending,
		TechnicianComments: strings.TrimSpace(opts.Comments),
		PhotoRef:           optionalString(opts.PhotoRef),
		SubmittedAt:        now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Repo.InsertPermit(ctx, tx, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Permit{}, InvalidStateError{Reason: sequence.ReasonDuplicatePending, Details: map[string]any{"requested": pt.Name}}
		}
		return domain.Permit{}, fmt.Errorf("insert permit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	e.Metrics.PermitCreated()
	if startedJob {
		e.Metrics.JobTransition(j.State)
	}
	e.log().Info("permit created",
		zap.String("permit_id", p.ID), zap.String("job_id", j.ID),
		zap.String("permit_type", pt.Name), zap.Bool("job_started", startedJob))

	p = e.reloadPermit(ctx, p, j, tech, pt)
	e.notifier().NotifyPermit(ctx, events.PermitNotification{
		Type:    events.PermitNew,
		Permiso: events.PermitPayloadOf(p),
		Message: fmt.Sprintf("%s solicitó un permiso de %s para el trabajo %q.", p.TechnicianName, p.PermitTypeName, p.JobTitle),
	})
	return p, nil
}

// PermitAuthorizeOptions carry a supervisor decision on a permit.
type PermitAuthorizeOptions struct {
	PermitID     string
	SupervisorID string
	Decision     string
	Comments     string
}

// AuthorizePermit approves or rejects a pending permit. Approval advances the
// job's sequence and may complete the job.
func (e Engine) AuthorizePermit(ctx context.Context, opts PermitAuthorizeOptions) (domain.Permit, error) {
	if opts.Decision != domain.PermitApproved && opts.Decision != domain.PermitRejected {
		return domain.Permit{}, ValidationError{Field: "estado", Reason: "must be aprobado or rechazado"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	sup, err := e.Auth.RequireRole(ctx, tx, opts.SupervisorID, domain.RoleSupervisor)
	if err != nil {
		return domain.Permit{}, lookupErr(err, "supervisor", opts.SupervisorID)
	}
	p, err := e.Repo.GetPermitTx(ctx, tx, opts.PermitID)
	if err != nil {
		return domain.Permit{}, lookupErr(err, "permiso", opts.PermitID)
	}
	if p.State != domain.PermitPending {
		return domain.Permit{}, InvalidStateError{Reason: ReasonNotPending, Details: map[string]any{"estado": p.State}}
	}
	now := e.timestamp()
	comments := optionalString(opts.Comments)
	if err := e.Repo.DecidePermit(ctx, tx, p.ID, opts.Decision, sup.ID, comments, now); err != nil {
		if errors.Is(err, repo.ErrPrecondition) {
			return domain.Permit{}, InvalidStateError{Reason: ReasonNotPending}
		}
		return domain.Permit{}, fmt.Errorf("decide permit: %w", err)
	}

	var job domain.Job
	jobChanged := false
	if opts.Decision == domain.PermitApproved {
		job, err = e.Repo.GetJobTx(ctx, tx, p.JobID)
		if err != nil {
			return domain.Permit{}, lookupErr(err, "trabajo", p.JobID)
		}
		before := job.State
		if e.advanceOnPermitApproval(&job, p.PermitTypeName, now) {
			if err := e.Repo.UpdateJob(ctx, tx, job); err != nil {
				return domain.Permit{}, fmt.Errorf("update job: %w", err)
			}
			jobChanged = job.State != before
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	e.Metrics.PermitDecided(opts.Decision)
	if jobChanged {
		e.Metrics.JobTransition(job.State)
	}
	fields := []zap.Field{
		zap.String("permit_id", p.ID), zap.String("job_id", p.JobID),
		zap.String("decision", opts.Decision), zap.String("supervisor_id", sup.ID),
	}
	if opts.Decision == domain.PermitApproved {
		fields = append(fields, zap.String("next_permit_type", job.NextPermitType), zap.String("job_state", job.State))
	}
	e.log().Info("permit decided", fields...)

	p.State = opts.Decision
	p.SupervisorID = &sup.ID
	p.SupervisorName = sup.Name
	p.SupervisorComments = comments
	p.ReviewedAt = &now
	p.UpdatedAt = now
	if fresh, err := e.Repo.GetPermit(ctx, p.ID); err == nil {
		p = fresh
	} else {
		e.log().Warn("reload permit after commit", zap.String("permit_id", p.ID), zap.Error(err))
	}
	verb := "aprobado"
	if opts.Decision == domain.PermitRejected {
		verb = "rechazado"
	}
	e.notifier().NotifyPermit(ctx, events.PermitNotification{
		Type:    events.PermitUpdated,
		Permiso: events.PermitPayloadOf(p),
		Message: fmt.Sprintf("El permiso de %s de %s para el trabajo %q fue %s por %s.", p.PermitTypeName, p.TechnicianName, p.JobTitle, verb, sup.Name),
	})
	return p, nil
}

// reloadPermit re-reads a committed permit with its joined names, falling
// back to names already loaded in the transaction.
func (e Engine) reloadPermit(ctx context.Context, p domain.Permit, j domain.Job, tech domain.User, pt domain.PermitType) domain.Permit {
	fresh, err := e.Repo.GetPermit(ctx, p.ID)
	if err == nil {
		return fresh
	}
	e.log().Warn("reload permit after commit", zap.String("permit_id", p.ID), zap.Error(err))
	p.JobTitle = j.Title
	p.AreaID = j.AreaID
	p.TechnicianName = tech.Name
	p.PermitTypeName = pt.Name
	return p
}

func (e Engine) GetPermit(ctx context.Context, id string) (domain.Permit, error) {
	p, err := e.Repo.GetPermit(ctx, id)
	return p, lookupErr(err, "permiso", id)
}

// PendingPermitFilters narrow the supervisor queue. State defaults to
// pendiente.
type PendingPermitFilters struct {
	State         string
	AreaID        string
	SubmittedFrom string
	SubmittedTo   string
}

func (e Engine) ListPendingPermits(ctx context.Context, f PendingPermitFilters) ([]domain.Permit, error) {
	state := f.State
	if state == "" {
		state = domain.PermitPending
	}
	switch state {
	case domain.PermitPending, domain.PermitApproved, domain.PermitRejected:
	default:
		return nil, ValidationError{Field: "estado", Reason: "must be pendiente, aprobado or rechazado"}
	}
	return e.Repo.ListPermits(ctx, repo.PermitFilters{
		State:         state,
		AreaID:        f.AreaID,
		SubmittedFrom: f.SubmittedFrom,
		SubmittedTo:   f.SubmittedTo,
	})
}

func (e Engine) ListPermitsByJob(ctx context.Context, jobID string) ([]domain.Permit, error) {
	if _, err := e.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.Repo.ListPermits(ctx, repo.PermitFilters{JobID: jobID})
}

func (e Engine) ListPermitsByTechnician(ctx context.Context, technicianID string) ([]domain.Permit, error) {
	return e.Repo.ListPermits(ctx, repo.PermitFilters{TechnicianID: technicianID})
}

func (e Engine) ListPermitTypes(ctx context.Context) ([]domain.PermitType, error) {
	return e.Repo.ListPermitTypes(ctx)
}
