package repo

import (
	"context"
	"database/sql"

	"permitline/internal/domain"
)

const permitColumns = `p.id,p.job_id,j.title,j.area_id,p.technician_id,t.name,p.permit_type_id,pt.name,p.state,p.technician_comments,p.supervisor_comments,p.photo_ref,p.submitted_at,p.reviewed_at,p.supervisor_id,s.name,p.created_at,p.updated_at
FROM permits p
JOIN jobs j ON j.id=p.job_id
JOIN users t ON t.id=p.technician_id
JOIN permit_types pt ON pt.id=p.permit_type_id
LEFT JOIN users s ON s.id=p.supervisor_id`

func scanPermit(row rowScanner) (domain.Permit, error) {
	var p domain.Permit
	var techComments, supComments, photo, reviewedAt, supervisorID, supervisorName sql.NullString
	err := row.Scan(&p.ID, &p.JobID, &p.JobTitle, &p.AreaID, &p.TechnicianID, &p.TechnicianName, &p.PermitTypeID, &p.PermitTypeName,
		&p.State, &techComments, &supComments, &photo, &p.SubmittedAt, &reviewedAt, &supervisorID, &supervisorName, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.TechnicianComments = techComments.String
	p.SupervisorComments = stringPtr(supComments)
	p.PhotoRef = stringPtr(photo)
	p.ReviewedAt = stringPtr(reviewedAt)
	p.SupervisorID = stringPtr(supervisorID)
	p.SupervisorName = supervisorName.String
	return p, nil
}

// InsertPermit stores a new permit. A second pending permit for the same job
// and type fails with ErrConflict.
func (r Repo) InsertPermit(ctx context.Context, tx *sql.Tx, p domain.Permit) error {
	_, err := r.exec(ctx, tx, `INSERT INTO permits(id,job_id,technician_id,permit_type_id,state,technician_comments,supervisor_comments,photo_ref,submitted_at,reviewed_at,supervisor_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.TechnicianID, p.PermitTypeID, p.State, nullable(p.TechnicianComments), nullableStringPtr(p.SupervisorComments),
		nullableStringPtr(p.PhotoRef), p.SubmittedAt, nullableStringPtr(p.ReviewedAt), nullableStringPtr(p.SupervisorID), p.CreatedAt, p.UpdatedAt)
	return err
}

// DecidePermit records a supervisor decision on a pending permit. It returns
// ErrPrecondition when the permit is no longer pending.
func (r Repo) DecidePermit(ctx context.Context, tx *sql.Tx, id, state, supervisorID string, comments *string, reviewedAt string) error {
	res, err := r.exec(ctx, tx, `UPDATE permits SET state=?, supervisor_id=?, supervisor_comments=?, reviewed_at=?, updated_at=? WHERE id=? AND state=?`,
		state, supervisorID, nullableStringPtr(comments), reviewedAt, reviewedAt, id, domain.PermitPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPrecondition
	}
	return nil
}

func (r Repo) HasPendingPermit(ctx context.Context, tx *sql.Tx, jobID, permitTypeID string) (bool, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, r.q(`SELECT 1 FROM permits WHERE job_id=? AND permit_type_id=? AND state=? LIMIT 1`),
		jobID, permitTypeID, domain.PermitPending).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) GetPermit(ctx context.Context, id string) (domain.Permit, error) {
	return scanPermit(r.DB.QueryRowContext(ctx, r.q(`SELECT `+permitColumns+` WHERE p.id=?`), id))
}

func (r Repo) GetPermitTx(ctx context.Context, tx *sql.Tx, id string) (domain.Permit, error) {
	return scanPermit(tx.QueryRowContext(ctx, r.q(`SELECT `+permitColumns+` WHERE p.id=?`), id))
}

type PermitFilters struct {
	State        string
	AreaID       string
	JobID        string
	TechnicianID string
	// SubmittedFrom and SubmittedTo bound submitted_at, RFC3339, inclusive.
	SubmittedFrom string
	SubmittedTo   string
}

// ListPermits returns matching permits, newest submission first.
func (r Repo) ListPermits(ctx context.Context, f PermitFilters) ([]domain.Permit, error) {
	var clauses []string
	var args []any
	if f.State != "" {
		clauses = append(clauses, "p.state=?")
		args = append(args, f.State)
	}
	if f.AreaID != "" {
		clauses = append(clauses, "j.area_id=?")
		args = append(args, f.AreaID)
	}
	if f.JobID != "" {
		clauses = append(clauses, "p.job_id=?")
		args = append(args, f.JobID)
	}
	if f.TechnicianID != "" {
		clauses = append(clauses, "p.technician_id=?")
		args = append(args, f.TechnicianID)
	}
	if f.SubmittedFrom != "" {
		clauses = append(clauses, "p.submitted_at >= ?")
		args = append(args, f.SubmittedFrom)
	}
	if f.SubmittedTo != "" {
		clauses = append(clauses, "p.submitted_at <= ?")
		args = append(args, f.SubmittedTo)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+permitColumns+where(clauses)+` ORDER BY p.submitted_at DESC, p.id DESC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Permit{}
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
