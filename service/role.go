package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/snowflake"
	"github.com/fbarrella/reson8/validation"
)

// RoleStore is the subset of *store.Store the Role service needs.
type RoleStore interface {
	CreateRole(ctx context.Context, role models.Role) (models.Role, error)
	UpdateRole(ctx context.Context, role models.Role) error
	DeleteRole(ctx context.Context, id int64) error
	GetRole(ctx context.Context, id int64) (models.Role, error)
}

// Role implements the role CRUD SPEC_FULL.md §10 adds beyond spec.md
// §4.9's listing/assignment pair, in the Channel Service's CRUD shape
// (§4.8) applied to roles instead of channels.
type Role struct {
	Store RoleStore
	Sugar *zap.SugaredLogger
}

func NewRole(store RoleStore, sugar *zap.SugaredLogger) *Role {
	return &Role{Store: store, Sugar: sugar}
}

func (r *Role) Create(ctx context.Context, serverID int64, name string, permissions uint64, powerLevel int, color *string) (models.Role, error) {
	trimmed, err := validation.RoleName(name)
	if err != nil {
		return models.Role{}, err
	}

	id, err := snowflake.Generate()
	if err != nil {
		return models.Role{}, err
	}

	return r.Store.CreateRole(ctx, models.Role{
		ID: id, ServerID: serverID, Name: trimmed, Permissions: permissions, PowerLevel: powerLevel, Color: color,
	})
}

func (r *Role) Update(ctx context.Context, role models.Role) error {
	trimmed, err := validation.RoleName(role.Name)
	if err != nil {
		return err
	}
	role.Name = trimmed
	return r.Store.UpdateRole(ctx, role)
}

func (r *Role) Delete(ctx context.Context, id int64) error {
	return r.Store.DeleteRole(ctx, id)
}
