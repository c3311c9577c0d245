package domain

// Job states. One enumeration covers both the explicit start flow and the
// permit-driven progression.
const (
	JobPending         = "pendiente"
	JobAssigned        = "asignado"
	JobInProcess       = "en_proceso"
	JobPendingApproval = "pendiente_aprobacion"
	JobCompleted       = "completado"
	JobCancelled       = "cancelado"
)

// Permit states.
const (
	PermitPending  = "pendiente"
	PermitApproved = "aprobado"
	PermitRejected = "rechazado"
)

// Actor roles.
const (
	RoleTechnician = "tecnico"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

// JobTerminal reports whether no further transitions are allowed.
func JobTerminal(state string) bool {
	return state == JobCompleted || state == JobCancelled
}

type Area struct {
	ID          string `json:"id"`
	Name        string `json:"nombre"`
	Description string `json:"descripcion,omitempty"`
	CreatedAt   string `json:"createdAt" format:"date-time"`
}

type Role struct {
	Name        string `json:"nombre"`
	Description string `json:"descripcion,omitempty"`
}

type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Name      string  `json:"nombre"`
	Role      string  `json:"rol" enum:"tecnico,supervisor,admin"`
	AreaID    *string `json:"areaId,omitempty"`
	CreatedAt string  `json:"createdAt" format:"date-time"`
}

type PermitType struct {
	ID          string `json:"id"`
	Name        string `json:"nombre"`
	Description string `json:"descripcion,omitempty"`
}

type Job struct {
	ID              string  `json:"id"`
	Title           string  `json:"titulo"`
	Description     string  `json:"descripcion,omitempty"`
	AreaID          string  `json:"areaId"`
	AreaName        string  `json:"areaNombre,omitempty"`
	TechnicianID    *string `json:"tecnicoAsignadoId,omitempty"`
	TechnicianName  string  `json:"tecnicoAsignadoNombre,omitempty"`
	State           string  `json:"estado" enum:"pendiente,asignado,en_proceso,pendiente_aprobacion,completado,cancelado"`
	NextPermitType  string  `json:"siguienteTipoPermiso" enum:"altura,enganche,cierre,finalizado"`
	ScheduledAt     *string `json:"fechaProgramada,omitempty" format:"date-time"`
	StartedAt       *string `json:"fechaInicioReal,omitempty" format:"date-time"`
	FinishedAt      *string `json:"fechaFinReal,omitempty" format:"date-time"`
	Comments        string  `json:"comentarios,omitempty"`
	RejectionReason *string `json:"motivoRechazo,omitempty"`
	Active          bool    `json:"activo"`
	CreatedAt       string  `json:"createdAt" format:"date-time"`
	UpdatedAt       string  `json:"updatedAt" format:"date-time"`
}

// Permit is returned populated with the names of the entities it references.
type Permit struct {
	ID                 string  `json:"id"`
	JobID              string  `json:"trabajoId"`
	JobTitle           string  `json:"trabajoTitulo,omitempty"`
	AreaID             string  `json:"areaId,omitempty"`
	TechnicianID       string  `json:"tecnicoId"`
	TechnicianName     string  `json:"tecnicoNombre,omitempty"`
	PermitTypeID       string  `json:"tipoPermisoId"`
	PermitTypeName     string  `json:"tipoPermiso"`
	State              string  `json:"estado" enum:"pendiente,aprobado,rechazado"`
	TechnicianComments string  `json:"comentariosTecnico,omitempty"`
	SupervisorComments *string `json:"comentariosSupervisor,omitempty"`
	PhotoRef           *string `json:"fotoKey,omitempty"`
	SubmittedAt        string  `json:"enviadoAt" format:"date-time"`
	ReviewedAt         *string `json:"revisadoAt,omitempty" format:"date-time"`
	SupervisorID       *string `json:"supervisorId,omitempty"`
	SupervisorName     string  `json:"supervisorNombre,omitempty"`
	CreatedAt          string  `json:"createdAt" format:"date-time"`
	UpdatedAt          string  `json:"updatedAt" format:"date-time"`
}

// JobStartStatus is the view of a job's explicit start request.
type JobStartStatus struct {
	ID              string  `json:"id"`
	Title           string  `json:"titulo"`
	State           string  `json:"estado"`
	Approved        bool    `json:"estaAprobado"`
	Rejected        bool    `json:"estaRechazado"`
	RejectionReason *string `json:"motivoRechazo,omitempty"`
	RequestedAt     *string `json:"fechaSolicitud,omitempty" format:"date-time"`
	Comments        string  `json:"comentarios,omitempty"`
}

// StartStatusOf derives the start-request view from a job.
func StartStatusOf(j Job) JobStartStatus {
	st := JobStartStatus{
		ID:          j.ID,
		Title:       j.Title,
		State:       j.State,
		Approved:    j.State == JobInProcess,
		Rejected:    j.State == JobCancelled,
		RequestedAt: j.StartedAt,
		Comments:    j.Comments,
	}
	if st.Rejected {
		st.RejectionReason = j.RejectionReason
	}
	return st
}

// APIKey grants a user non-interactive access; only the hash is stored.
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}
