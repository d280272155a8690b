package service_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/service"
)

type fakeRoleStore struct {
	roles map[int64]models.Role
}

func newFakeRoleStore() *fakeRoleStore {
	return &fakeRoleStore{roles: make(map[int64]models.Role)}
}

func (f *fakeRoleStore) CreateRole(_ context.Context, role models.Role) (models.Role, error) {
	f.roles[role.ID] = role
	return role, nil
}

func (f *fakeRoleStore) UpdateRole(_ context.Context, role models.Role) error {
	if _, ok := f.roles[role.ID]; !ok {
		return context.DeadlineExceeded
	}
	f.roles[role.ID] = role
	return nil
}

func (f *fakeRoleStore) DeleteRole(_ context.Context, id int64) error {
	delete(f.roles, id)
	return nil
}

func (f *fakeRoleStore) GetRole(_ context.Context, id int64) (models.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return models.Role{}, context.DeadlineExceeded
	}
	return role, nil
}

func TestRoleCreateRejectsBlankName(t *testing.T) {
	role := service.NewRole(newFakeRoleStore(), zap.NewNop().Sugar())

	if _, err := role.Create(context.Background(), 1, "  ", 0, 0, nil); err == nil {
		t.Fatal("expected an error creating a role with a blank name")
	}
}

func TestRoleCreateTrimsName(t *testing.T) {
	store := newFakeRoleStore()
	role := service.NewRole(store, zap.NewNop().Sugar())

	created, err := role.Create(context.Background(), 1, "  moderator  ", 0, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Name != "moderator" {
		t.Fatalf("expected trimmed name %q, got %q", "moderator", created.Name)
	}
}

func TestRoleDeleteRemovesFromStore(t *testing.T) {
	store := newFakeRoleStore()
	store.roles[1] = models.Role{ID: 1, Name: "temp"}
	role := service.NewRole(store, zap.NewNop().Sugar())

	if err := role.Delete(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.roles[1]; ok {
		t.Fatal("expected role 1 to be deleted")
	}
}
