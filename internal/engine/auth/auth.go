package auth

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"permitline/internal/domain"
)

// RoleError indicates an actor whose role does not fit the operation.
type RoleError struct {
	ActorID string
	Want    string
	Got     string
}

func (e RoleError) Error() string {
	return fmt.Sprintf("user %s has role %s; %s required", e.ActorID, e.Got, e.Want)
}

// UserStore loads users, optionally inside a transaction.
type UserStore interface {
	GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error)
}

// Service provides role checks backed by the user store.
type Service struct {
	Users UserStore
}

// RequireRole loads userID and checks it holds role. Store errors, including
// not-found, are returned unchanged.
func (s Service) RequireRole(ctx context.Context, tx *sql.Tx, userID, role string) (domain.User, error) {
	u, err := s.Users.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if u.Role != role {
		return u, RoleError{ActorID: userID, Want: role, Got: u.Role}
	}
	return u, nil
}

// HasAnyRole reports whether roles contains one of want.
func HasAnyRole(roles []string, want ...string) bool {
	for _, w := range want {
		if slices.Contains(roles, w) {
			return true
		}
	}
	return false
}
