package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"permitline/internal/db"
	"permitline/internal/domain"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a unique constraint violation.
	ErrConflict = errors.New("conflict")
	// ErrPrecondition reports a conditional update that matched no row.
	ErrPrecondition = errors.New("precondition failed")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) on(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	res, err := r.on(tx).ExecContext(ctx, r.q(query), args...)
	if err != nil && db.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return res, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

const jobColumns = `j.id,j.title,j.description,j.area_id,a.name,j.technician_id,u.name,j.state,j.next_permit_type,j.scheduled_at,j.started_at,j.finished_at,j.comments,j.rejection_reason,j.active,j.created_at,j.updated_at
FROM jobs j
JOIN areas a ON a.id=j.area_id
LEFT JOIN users u ON u.id=j.technician_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var description, technicianID, technicianName, scheduledAt, startedAt, finishedAt, comments, reason sql.NullString
	var active int64
	err := row.Scan(&j.ID, &j.Title, &description, &j.AreaID, &j.AreaName, &technicianID, &technicianName, &j.State, &j.NextPermitType,
		&scheduledAt, &startedAt, &finishedAt, &comments, &reason, &active, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.Description = description.String
	j.TechnicianID = stringPtr(technicianID)
	j.TechnicianName = technicianName.String
	j.ScheduledAt = stringPtr(scheduledAt)
	j.StartedAt = stringPtr(startedAt)
	j.FinishedAt = stringPtr(finishedAt)
	j.Comments = comments.String
	j.RejectionReason = stringPtr(reason)
	j.Active = active != 0
	return j, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := r.exec(ctx, tx, `INSERT INTO jobs(id,title,description,area_id,technician_id,state,next_permit_type,scheduled_at,started_at,finished_at,comments,rejection_reason,active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Title, nullable(j.Description), j.AreaID, nullableStringPtr(j.TechnicianID), j.State, j.NextPermitType,
		nullableStringPtr(j.ScheduledAt), nullableStringPtr(j.StartedAt), nullableStringPtr(j.FinishedAt),
		nullable(j.Comments), nullableStringPtr(j.RejectionReason), boolInt(j.Active), j.CreatedAt, j.UpdatedAt)
	return err
}

// UpdateJob writes back the whole mutable record.
func (r Repo) UpdateJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	res, err := r.exec(ctx, tx, `UPDATE jobs SET title=?, description=?, technician_id=?, state=?, next_permit_type=?, scheduled_at=?, started_at=?, finished_at=?, comments=?, rejection_reason=?, active=?, updated_at=? WHERE id=?`,
		j.Title, nullable(j.Description), nullableStringPtr(j.TechnicianID), j.State, j.NextPermitType,
		nullableStringPtr(j.ScheduledAt), nullableStringPtr(j.StartedAt), nullableStringPtr(j.FinishedAt),
		nullable(j.Comments), nullableStringPtr(j.RejectionReason), boolInt(j.Active), j.UpdatedAt, j.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, r.q(`SELECT `+jobColumns+` WHERE j.id=?`), id))
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	return scanJob(tx.QueryRowContext(ctx, r.q(`SELECT `+jobColumns+` WHERE j.id=?`), id))
}

type JobFilters struct {
	TechnicianID string
	AreaID       string
	State        string
	// OldestStartFirst orders by actual start ascending instead of newest first.
	OldestStartFirst bool
}

func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.TechnicianID != "" {
		clauses = append(clauses, "j.technician_id=?")
		args = append(args, f.TechnicianID)
	}
	if f.AreaID != "" {
		clauses = append(clauses, "j.area_id=?")
		args = append(args, f.AreaID)
	}
	if f.State != "" {
		clauses = append(clauses, "j.state=?")
		args = append(args, f.State)
	}
	order := ` ORDER BY j.created_at DESC, j.id DESC`
	if f.OldestStartFirst {
		order = ` ORDER BY j.started_at ASC, j.id ASC`
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+jobColumns+where(clauses)+order), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}
