// Package events defines the notifications emitted after committed state
// changes and the hub that fans them out to listeners.
package events

import (
	"context"

	"permitline/internal/domain"
)

// Event names on the wire.
const (
	EventPermit         = "permisoNotification"
	EventJob            = "trabajoNotification"
	EventConnectedUsers = "connectedUsers"
)

type PermitKind string

const (
	PermitNew     PermitKind = "nuevo"
	PermitUpdated PermitKind = "actualizado"
)

type JobKind string

const (
	JobStarted  JobKind = "iniciado"
	JobApproved JobKind = "aprobado"
	JobRejected JobKind = "rechazado"
)

// Notification is one of PermitNotification, JobNotification or
// ConnectedUsers.
type Notification interface {
	Event() string
}

// PermitPayload is the permit subset carried by notifications.
type PermitPayload struct {
	ID                    string  `json:"id"`
	Estado                string  `json:"estado"`
	TrabajoID             string  `json:"trabajoId"`
	TrabajoTitulo         string  `json:"trabajoTitulo"`
	AreaID                string  `json:"areaId"`
	TecnicoID             string  `json:"tecnicoId"`
	TecnicoNombre         string  `json:"tecnicoNombre"`
	TipoPermiso           string  `json:"tipoPermiso"`
	ComentariosTecnico    string  `json:"comentariosTecnico,omitempty"`
	SupervisorID          *string `json:"supervisorId,omitempty"`
	SupervisorNombre      string  `json:"supervisorNombre,omitempty"`
	ComentariosSupervisor *string `json:"comentariosSupervisor,omitempty"`
	EnviadoAt             string  `json:"enviadoAt"`
	RevisadoAt            *string `json:"revisadoAt,omitempty"`
}

func PermitPayloadOf(p domain.Permit) PermitPayload {
	return PermitPayload{
		ID:                    p.ID,
		Estado:                p.State,
		TrabajoID:             p.JobID,
		TrabajoTitulo:         p.JobTitle,
		AreaID:                p.AreaID,
		TecnicoID:             p.TechnicianID,
		TecnicoNombre:         p.TechnicianName,
		TipoPermiso:           p.PermitTypeName,
		ComentariosTecnico:    p.TechnicianComments,
		SupervisorID:          p.SupervisorID,
		SupervisorNombre:      p.SupervisorName,
		ComentariosSupervisor: p.SupervisorComments,
		EnviadoAt:             p.SubmittedAt,
		RevisadoAt:            p.ReviewedAt,
	}
}

// JobPayload is the job subset carried by notifications.
type JobPayload struct {
	ID                   string  `json:"id"`
	Titulo               string  `json:"titulo"`
	Estado               string  `json:"estado"`
	AreaID               string  `json:"areaId"`
	TecnicoAsignadoID    *string `json:"tecnicoAsignadoId,omitempty"`
	SiguienteTipoPermiso string  `json:"siguienteTipoPermiso"`
	FechaInicioReal      *string `json:"fechaInicioReal,omitempty"`
	FechaFinReal         *string `json:"fechaFinReal,omitempty"`
	MotivoRechazo        *string `json:"motivoRechazo,omitempty"`
}

func JobPayloadOf(j domain.Job) JobPayload {
	return JobPayload{
		ID:                   j.ID,
		Titulo:               j.Title,
		Estado:               j.State,
		AreaID:               j.AreaID,
		TecnicoAsignadoID:    j.TechnicianID,
		SiguienteTipoPermiso: j.NextPermitType,
		FechaInicioReal:      j.StartedAt,
		FechaFinReal:         j.FinishedAt,
		MotivoRechazo:        j.RejectionReason,
	}
}

type PermitNotification struct {
	Type    PermitKind    `json:"type"`
	Permiso PermitPayload `json:"permiso"`
	Message string        `json:"message"`
}

func (PermitNotification) Event() string { return EventPermit }

type JobNotification struct {
	Type    JobKind    `json:"type"`
	Trabajo JobPayload `json:"trabajo"`
	Message string     `json:"message"`
}

func (JobNotification) Event() string { return EventJob }

// ConnectedUsers lists the actors holding an open subscription.
type ConnectedUsers struct {
	Users []string `json:"users"`
}

func (ConnectedUsers) Event() string { return EventConnectedUsers }

// Notifier receives exactly one call per committed state change.
type Notifier interface {
	NotifyPermit(ctx context.Context, n PermitNotification)
	NotifyJob(ctx context.Context, n JobNotification)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) NotifyPermit(context.Context, PermitNotification) {}
func (Nop) NotifyJob(context.Context, JobNotification)       {}
