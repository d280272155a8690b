package service_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/presence"
	"github.com/fbarrella/reson8/service"
)

type fakeChannelStore struct {
	channels map[int64]models.Channel
	deleted  []int64
}

func newFakeChannelStore() *fakeChannelStore {
	return &fakeChannelStore{channels: make(map[int64]models.Channel)}
}

func (f *fakeChannelStore) CreateChannel(_ context.Context, ch models.Channel) (models.Channel, error) {
	f.channels[ch.ID] = ch
	return ch, nil
}

func (f *fakeChannelStore) GetChannel(_ context.Context, id int64) (models.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return models.Channel{}, context.DeadlineExceeded
	}
	return ch, nil
}

func (f *fakeChannelStore) ListChannels(_ context.Context, serverID int64) ([]models.Channel, error) {
	var out []models.Channel
	for _, ch := range f.channels {
		if ch.ServerID == serverID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChannelStore) UpdateChannel(_ context.Context, ch models.Channel) error {
	f.channels[ch.ID] = ch
	return nil
}

func (f *fakeChannelStore) DeleteChannel(_ context.Context, id int64) error {
	delete(f.channels, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakePresence struct {
	occupants map[int64][]string
}

func (p *fakePresence) JoinServer(context.Context, string, int64, string) error { return nil }
func (p *fakePresence) LeaveServer(context.Context, string, int64) error        { return nil }
func (p *fakePresence) JoinChannel(context.Context, string, int64) error        { return nil }
func (p *fakePresence) LeaveChannel(context.Context, string) error              { return nil }
func (p *fakePresence) ServerMembers(context.Context, int64) ([]string, error)  { return nil, nil }
func (p *fakePresence) ChannelOccupants(_ context.Context, channelID int64) ([]string, error) {
	return p.occupants[channelID], nil
}
func (p *fakePresence) Get(context.Context, string) (presence.Metadata, bool, error) {
	return presence.Metadata{}, false, nil
}

func TestChannelCreateRejectsEmptyName(t *testing.T) {
	store := newFakeChannelStore()
	ch := service.NewChannel(store, &fakePresence{}, &fakeBroker{}, zap.NewNop().Sugar())

	if _, err := ch.Create(context.Background(), 1, "   ", models.ChannelTypeText, nil, nil); err == nil {
		t.Fatal("expected an error creating a channel with a blank name")
	}
}

func TestChannelCreateBroadcastsTree(t *testing.T) {
	store := newFakeChannelStore()
	broker := &fakeBroker{}
	ch := service.NewChannel(store, &fakePresence{}, broker, zap.NewNop().Sugar())

	created, err := ch.Create(context.Background(), 1, "general", models.ChannelTypeText, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Name != "general" {
		t.Fatalf("expected name %q, got %q", "general", created.Name)
	}
	if len(broker.published) != 1 || broker.published[0] != "CHANNEL_TREE_UPDATE" {
		t.Fatalf("expected a single CHANNEL_TREE_UPDATE broadcast, got %v", broker.published)
	}
}

func TestChannelDeleteBroadcastsDeletedThenTree(t *testing.T) {
	store := newFakeChannelStore()
	store.channels[7] = models.Channel{ID: 7, ServerID: 1, Name: "voice", Type: models.ChannelTypeVoice}
	broker := &fakeBroker{}
	ch := service.NewChannel(store, &fakePresence{}, broker, zap.NewNop().Sugar())

	if err := ch.Delete(context.Background(), 1, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(broker.published) != 2 || broker.published[0] != "CHANNEL_DELETED" || broker.published[1] != "CHANNEL_TREE_UPDATE" {
		t.Fatalf("expected CHANNEL_DELETED then CHANNEL_TREE_UPDATE, got %v", broker.published)
	}
	if len(store.deleted) != 1 || store.deleted[0] != 7 {
		t.Fatalf("expected channel 7 to be deleted, got %v", store.deleted)
	}
}

func TestChannelTreeFillsOccupantsFromPresence(t *testing.T) {
	store := newFakeChannelStore()
	store.channels[1] = models.Channel{ID: 1, ServerID: 1, Name: "root", Type: models.ChannelTypeVoice}
	presence := &fakePresence{occupants: map[int64][]string{1: {"alice", "bob"}}}
	ch := service.NewChannel(store, presence, &fakeBroker{}, zap.NewNop().Sugar())

	nodes, err := ch.Tree(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 root node, got %d", len(nodes))
	}
	if len(nodes[0].Occupants) != 2 {
		t.Fatalf("expected 2 occupants, got %v", nodes[0].Occupants)
	}
}
