package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"permitline/internal/config"
	"permitline/internal/domain"
	"permitline/internal/repo"
)

// SeedResult counts the rows written by Seed.
type SeedResult struct {
	Roles       int `json:"roles"`
	Areas       int `json:"areas"`
	PermitTypes int `json:"permit_types"`
	Users       int `json:"users"`
}

// AreaID returns the id used for a seeded area without an explicit one.
func AreaID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("area|"+name)).String()
}

// PermitTypeID returns the id used for a seeded permit type without an explicit one.
func PermitTypeID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("permit-type|"+name)).String()
}

// Seed upserts reference data in one transaction. Running it twice is a no-op.
func Seed(ctx context.Context, r repo.Repo, seed config.Seed, now time.Time) (SeedResult, error) {
	var res SeedResult
	ts := now.UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	for _, role := range seed.Roles {
		if err := r.UpsertRole(ctx, tx, domain.Role{Name: role.Name, Description: role.Description}); err != nil {
			return res, fmt.Errorf("role %s: %w", role.Name, err)
		}
		res.Roles++
	}
	areaIDs := map[string]string{}
	for _, a := range seed.Areas {
		id := a.ID
		if id == "" {
			id = AreaID(a.Name)
		}
		areaIDs[a.Name] = id
		if err := r.UpsertArea(ctx, tx, domain.Area{ID: id, Name: a.Name, Description: a.Description, CreatedAt: ts}); err != nil {
			return res, fmt.Errorf("area %s: %w", a.Name, err)
		}
		res.Areas++
	}
	for _, pt := range seed.PermitTypes {
		id := pt.ID
		if id == "" {
			id = PermitTypeID(pt.Name)
		}
		if err := r.UpsertPermitType(ctx, tx, domain.PermitType{ID: id, Name: pt.Name, Description: pt.Description}); err != nil {
			return res, fmt.Errorf("permit type %s: %w", pt.Name, err)
		}
		res.PermitTypes++
	}
	for _, u := range seed.Users {
		user := domain.User{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, CreatedAt: ts}
		if u.Area != "" {
			id, ok := areaIDs[u.Area]
			if !ok {
				return res, fmt.Errorf("user %s: unknown area %s", u.ID, u.Area)
			}
			user.AreaID = &id
		}
		if err := r.UpsertUser(ctx, tx, user); err != nil {
			return res, fmt.Errorf("user %s: %w", u.ID, err)
		}
		res.Users++
	}
	return res, tx.Commit()
}
