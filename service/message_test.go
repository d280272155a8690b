package service_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/service"
)

type fakeMessageStore struct {
	channel  models.Channel
	messages []models.Message
	nextID   int64
}

func (f *fakeMessageStore) GetChannel(_ context.Context, id int64) (models.Channel, error) {
	if f.channel.ID != id {
		return models.Channel{}, context.DeadlineExceeded
	}
	return f.channel, nil
}

func (f *fakeMessageStore) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	f.nextID++
	msg.CreatedAt = time.Now()
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeMessageStore) ListMessagesBefore(_ context.Context, channelID int64, before *time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := f.messages[i]
		if msg.ChannelID != channelID {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

type fakeBroker struct {
	published []string
}

func (b *fakeBroker) Subscribe(context.Context, string, string) error   { return nil }
func (b *fakeBroker) Unsubscribe(context.Context, string, string) error { return nil }
func (b *fakeBroker) UnsubscribeAll(context.Context, string)            {}
func (b *fakeBroker) Publish(_ context.Context, _ string, event string, _ any) error {
	b.published = append(b.published, event)
	return nil
}
func (b *fakeBroker) PublishExcept(_ context.Context, _ string, event string, _ any, _ string) error {
	b.published = append(b.published, event)
	return nil
}

func TestMessageSendRejectsVoiceChannel(t *testing.T) {
	store := &fakeMessageStore{channel: models.Channel{ID: 1, Type: models.ChannelTypeVoice}}
	msg := service.NewMessage(store, &fakeBroker{}, zap.NewNop().Sugar())

	if _, err := msg.Send(context.Background(), 100, 1, "user-1", "hi"); err == nil {
		t.Fatal("expected an error sending to a VOICE channel")
	}
}

func TestMessageSendRejectsEmptyContent(t *testing.T) {
	store := &fakeMessageStore{channel: models.Channel{ID: 1, Type: models.ChannelTypeText}}
	msg := service.NewMessage(store, &fakeBroker{}, zap.NewNop().Sugar())

	if _, err := msg.Send(context.Background(), 100, 1, "user-1", "   "); err == nil {
		t.Fatal("expected an error sending empty content")
	}
}

func TestMessageSendPersistsAndBroadcasts(t *testing.T) {
	store := &fakeMessageStore{channel: models.Channel{ID: 1, Type: models.ChannelTypeText}}
	broker := &fakeBroker{}
	msg := service.NewMessage(store, broker, zap.NewNop().Sugar())

	sent, err := msg.Send(context.Background(), 100, 1, "user-1", "hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent.Content != "hello there" {
		t.Fatalf("expected trimmed content preserved, got %q", sent.Content)
	}
	if len(broker.published) != 1 || broker.published[0] != "MESSAGE_RECEIVED" {
		t.Fatalf("expected a single MESSAGE_RECEIVED broadcast, got %v", broker.published)
	}
}

func TestMessageFetchClampsLimitAndReturnsAscending(t *testing.T) {
	store := &fakeMessageStore{channel: models.Channel{ID: 1, Type: models.ChannelTypeText}}
	msg := service.NewMessage(store, &fakeBroker{}, zap.NewNop().Sugar())

	for i := 0; i < 5; i++ {
		if _, err := msg.Send(context.Background(), 100, 1, "user-1", "msg"); err != nil {
			t.Fatalf("seeding message %d: %v", i, err)
		}
	}

	fetched, err := msg.Fetch(context.Background(), 1, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetched) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(fetched))
	}
	for i := 0; i+1 < len(fetched); i++ {
		if fetched[i].CreatedAt.After(fetched[i+1].CreatedAt) {
			t.Fatal("expected messages in ascending chronological order")
		}
	}
}
