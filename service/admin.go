package service

import (
	"context"
	"fmt"

	"github.com/fbarrella/reson8/models"
)

// AdminStore is the subset of *store.Store the Admin service needs.
type AdminStore interface {
	UsersWithRoles(ctx context.Context, serverID int64) ([]models.UserWithRoles, error)
	ListRoles(ctx context.Context, serverID int64) ([]models.Role, error)
	AssignRole(ctx context.Context, userID string, roleID int64) error
	RemoveRoleAssignment(ctx context.Context, userID string, roleID int64) error
	GetRole(ctx context.Context, id int64) (models.Role, error)
}

// Admin implements spec.md §4.9.
type Admin struct {
	Store AdminStore
}

func NewAdmin(store AdminStore) *Admin {
	return &Admin{Store: store}
}

// Users implements GET_ALL_USERS.
func (a *Admin) Users(ctx context.Context, serverID int64) ([]models.UserWithRoles, error) {
	return a.Store.UsersWithRoles(ctx, serverID)
}

// Roles implements GET_ROLES.
func (a *Admin) Roles(ctx context.Context, serverID int64) ([]models.Role, error) {
	return a.Store.ListRoles(ctx, serverID)
}

// RoleAction is the ASSIGN_ROLE action enum of spec.md §4.9.
type RoleAction string

const (
	RoleActionAdd    RoleAction = "add"
	RoleActionRemove RoleAction = "remove"
)

// AssignRole upserts or deletes a role binding idempotently. A client is
// not prevented by the server from removing its own admin role — that
// constraint is a client-side courtesy (spec.md §4.9).
func (a *Admin) AssignRole(ctx context.Context, userID string, roleID int64, action RoleAction) error {
	role, err := a.Store.GetRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("service: role %d: %w", roleID, err)
	}
	_ = role

	switch action {
	case RoleActionAdd:
		return a.Store.AssignRole(ctx, userID, roleID)
	case RoleActionRemove:
		return a.Store.RemoveRoleAssignment(ctx, userID, roleID)
	default:
		return fmt.Errorf("service: unknown role action %q", action)
	}
}
