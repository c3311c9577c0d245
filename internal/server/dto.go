package server

import (
	"permitline/internal/domain"
)

// Request payloads

type CreateJobRequest struct {
	Title        string  `json:"titulo" minLength:"1"`
	Description  *string `json:"descripcion,omitempty"`
	AreaID       string  `json:"areaId" minLength:"1"`
	TechnicianID *string `json:"tecnicoAsignadoId,omitempty"`
	ScheduledAt  *string `json:"fechaProgramada,omitempty" format:"date-time"`
	Comments     *string `json:"comentarios,omitempty"`
}

type AssignJobRequest struct {
	TechnicianID string `json:"tecnicoId" minLength:"1"`
}

type CancelJobRequest struct {
	SupervisorID string  `json:"supervisorId" minLength:"1"`
	Reason       *string `json:"motivo,omitempty"`
}

type StartJobRequest struct {
	TechnicianID string  `json:"tecnicoId" minLength:"1"`
	PhotoRef     *string `json:"fotoInicial,omitempty"`
	Comments     *string `json:"comentarios,omitempty"`
}

type DecideJobStartRequest struct {
	SupervisorID string  `json:"supervisorId" minLength:"1"`
	Approved     bool    `json:"aprobado"`
	Comments     *string `json:"comentarios,omitempty"`
}

type CreatePermitRequest struct {
	JobID        string  `json:"trabajoId" minLength:"1"`
	TechnicianID string  `json:"tecnicoId" minLength:"1"`
	PermitTypeID string  `json:"tipoPermisoId" minLength:"1"`
	PhotoRef     *string `json:"fotoKey,omitempty"`
	Comments     *string `json:"comentariosTecnico,omitempty"`
}

type AuthorizePermitRequest struct {
	State        string  `json:"estado" enum:"aprobado,rechazado"`
	Comments     *string `json:"comentariosSupervisor,omitempty"`
	SupervisorID string  `json:"supervisorId" minLength:"1"`
}

// Responses

type HealthOutput struct {
	Body struct {
		Status         string   `json:"status"`
		ConnectedUsers []string `json:"usuariosConectados"`
		SequenceOrder  []string `json:"secuencia"`
	}
}

type JobOutput struct {
	Body domain.Job
}

type JobsOutput struct {
	Body []domain.Job
}

type JobStartStatusOutput struct {
	Body domain.JobStartStatus
}

type PermitOutput struct {
	Body domain.Permit
}

type PermitsOutput struct {
	Body []domain.Permit
}

type PermitTypesOutput struct {
	Body []domain.PermitType
}

func strValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
