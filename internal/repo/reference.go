package repo

import (
	"context"
	"database/sql"

	"permitline/internal/domain"
)

// Reference data: roles, areas, users and permit types. These are seeded,
// not edited through the API.

func (r Repo) UpsertRole(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	_, err := r.exec(ctx, tx, `INSERT INTO roles(name, description) VALUES (?,?)
ON CONFLICT(name) DO UPDATE SET description=excluded.description`, role.Name, nullable(role.Description))
	return err
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name, COALESCE(description,'') FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Role{}
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.Name, &role.Description); err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}

func (r Repo) UpsertArea(ctx context.Context, tx *sql.Tx, a domain.Area) error {
	_, err := r.exec(ctx, tx, `INSERT INTO areas(id, name, description, created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description`, a.ID, a.Name, nullable(a.Description), a.CreatedAt)
	return err
}

func (r Repo) GetArea(ctx context.Context, id string) (domain.Area, error) {
	var a domain.Area
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id, name, COALESCE(description,''), created_at FROM areas WHERE id=?`), id).
		Scan(&a.ID, &a.Name, &a.Description, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAreas(ctx context.Context) ([]domain.Area, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, COALESCE(description,''), created_at FROM areas ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Area{}
	for rows.Next() {
		var a domain.Area
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.exec(ctx, tx, `INSERT INTO users(id, email, name, role, area_id, created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET email=excluded.email, name=excluded.name, role=excluded.role, area_id=excluded.area_id`,
		u.ID, u.Email, u.Name, u.Role, nullableStringPtr(u.AreaID), u.CreatedAt)
	return err
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var areaID sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &areaID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.AreaID = stringPtr(areaID)
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.GetUserTx(ctx, nil, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(r.on(tx).QueryRowContext(ctx, r.q(`SELECT id, email, name, role, area_id, created_at FROM users WHERE id=?`), id))
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT id, email, name, role, area_id, created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query+` ORDER BY name`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpsertPermitType(ctx context.Context, tx *sql.Tx, pt domain.PermitType) error {
	_, err := r.exec(ctx, tx, `INSERT INTO permit_types(id, name, description) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description`, pt.ID, pt.Name, nullable(pt.Description))
	return err
}

func (r Repo) GetPermitTypeTx(ctx context.Context, tx *sql.Tx, id string) (domain.PermitType, error) {
	var pt domain.PermitType
	err := r.on(tx).QueryRowContext(ctx, r.q(`SELECT id, name, COALESCE(description,'') FROM permit_types WHERE id=?`), id).
		Scan(&pt.ID, &pt.Name, &pt.Description)
	if err == sql.ErrNoRows {
		return pt, ErrNotFound
	}
	return pt, err
}

func (r Repo) GetPermitTypeByName(ctx context.Context, name string) (domain.PermitType, error) {
	var pt domain.PermitType
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id, name, COALESCE(description,'') FROM permit_types WHERE name=?`), name).
		Scan(&pt.ID, &pt.Name, &pt.Description)
	if err == sql.ErrNoRows {
		return pt, ErrNotFound
	}
	return pt, err
}

func (r Repo) ListPermitTypes(ctx context.Context) ([]domain.PermitType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, COALESCE(description,'') FROM permit_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.PermitType{}
	for rows.Next() {
		var pt domain.PermitType
		if err := rows.Scan(&pt.ID, &pt.Name, &pt.Description); err != nil {
			return nil, err
		}
		res = append(res, pt)
	}
	return res, rows.Err()
}
