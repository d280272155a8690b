package service_test

import (
	"context"
	"testing"

	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/service"
)

type fakeAdminStore struct {
	roles       map[int64]models.Role
	assignments map[string]map[int64]bool
	users       []models.UserWithRoles
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{roles: make(map[int64]models.Role), assignments: make(map[string]map[int64]bool)}
}

func (f *fakeAdminStore) UsersWithRoles(context.Context, int64) ([]models.UserWithRoles, error) {
	return f.users, nil
}

func (f *fakeAdminStore) ListRoles(context.Context, int64) ([]models.Role, error) {
	var out []models.Role
	for _, r := range f.roles {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeAdminStore) AssignRole(_ context.Context, userID string, roleID int64) error {
	if f.assignments[userID] == nil {
		f.assignments[userID] = make(map[int64]bool)
	}
	f.assignments[userID][roleID] = true
	return nil
}

func (f *fakeAdminStore) RemoveRoleAssignment(_ context.Context, userID string, roleID int64) error {
	delete(f.assignments[userID], roleID)
	return nil
}

func (f *fakeAdminStore) GetRole(_ context.Context, id int64) (models.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return models.Role{}, context.DeadlineExceeded
	}
	return role, nil
}

func TestAdminAssignRoleAdd(t *testing.T) {
	store := newFakeAdminStore()
	store.roles[5] = models.Role{ID: 5, Name: "moderator"}
	admin := service.NewAdmin(store)

	if err := admin.AssignRole(context.Background(), "user-1", 5, service.RoleActionAdd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.assignments["user-1"][5] {
		t.Fatal("expected role 5 to be assigned to user-1")
	}
}

func TestAdminAssignRoleRemove(t *testing.T) {
	store := newFakeAdminStore()
	store.roles[5] = models.Role{ID: 5, Name: "moderator"}
	store.assignments["user-1"] = map[int64]bool{5: true}
	admin := service.NewAdmin(store)

	if err := admin.AssignRole(context.Background(), "user-1", 5, service.RoleActionRemove); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.assignments["user-1"][5] {
		t.Fatal("expected role 5 to be removed from user-1")
	}
}

func TestAdminAssignRoleUnknownAction(t *testing.T) {
	store := newFakeAdminStore()
	store.roles[5] = models.Role{ID: 5, Name: "moderator"}
	admin := service.NewAdmin(store)

	if err := admin.AssignRole(context.Background(), "user-1", 5, service.RoleAction("frobnicate")); err == nil {
		t.Fatal("expected an error for an unknown action")
	}
}

func TestAdminAssignRoleMissingRole(t *testing.T) {
	store := newFakeAdminStore()
	admin := service.NewAdmin(store)

	if err := admin.AssignRole(context.Background(), "user-1", 999, service.RoleActionAdd); err == nil {
		t.Fatal("expected an error assigning a role that does not exist")
	}
}
