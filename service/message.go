// Package service implements the Message, Channel, and Admin services
// of spec.md §4.7–§4.9: persist-then-broadcast business logic sitting
// between the Event Router and the Durable Store/Room Broker. It is
// grounded on the teacher's internal/handlers/message.go and channel.go
// CRUD-then-respond shape, generalized from an HTTP create/fetch/delete
// triad to the event-driven persist-then-broadcast pattern spec.md §4
// describes.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fbarrella/reson8/broker"
	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/snowflake"
	"github.com/fbarrella/reson8/validation"
)

// MessageStore is the subset of *store.Store the Message service needs.
type MessageStore interface {
	GetChannel(ctx context.Context, id int64) (models.Channel, error)
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessagesBefore(ctx context.Context, channelID int64, before *time.Time, limit int) ([]models.Message, error)
}

// Message implements spec.md §4.7.
type Message struct {
	Store  MessageStore
	Broker broker.Broker
	Sugar  *zap.SugaredLogger
}

func NewMessage(store MessageStore, b broker.Broker, sugar *zap.SugaredLogger) *Message {
	return &Message{Store: store, Broker: b, Sugar: sugar}
}

// Send validates content, verifies the channel exists and is
// TEXT-capable, persists, and broadcasts MESSAGE_RECEIVED to the full
// server room — not just the channel room, because clients may have the
// channel's tab open without being "in" that channel (spec.md §4.7).
func (m *Message) Send(ctx context.Context, serverID int64, channelID int64, userID string, content string) (models.Message, error) {
	trimmed, err := validation.MessageContent(content)
	if err != nil {
		return models.Message{}, err
	}

	ch, err := m.Store.GetChannel(ctx, channelID)
	if err != nil {
		return models.Message{}, fmt.Errorf("service: channel %d: %w", channelID, err)
	}
	if ch.Type != models.ChannelTypeText {
		return models.Message{}, fmt.Errorf("service: channel %d is not TEXT-capable", channelID)
	}

	id, err := snowflake.Generate()
	if err != nil {
		return models.Message{}, err
	}

	msg, err := m.Store.CreateMessage(ctx, models.Message{ID: id, ChannelID: channelID, UserID: userID, Content: trimmed})
	if err != nil {
		return models.Message{}, err
	}

	if err := m.Broker.Publish(ctx, broker.Key(broker.RoomServer, serverID), "MESSAGE_RECEIVED", msg); err != nil {
		m.Sugar.Errorf("service: broadcasting MESSAGE_RECEIVED: %v", err)
	}
	return msg, nil
}

// Fetch implements FETCH_MESSAGES: up to min(limit, 100) messages
// (default 50) older than before, returned in chronological ascending
// order even though the store query fetches descending (spec.md §4.7).
func (m *Message) Fetch(ctx context.Context, channelID int64, limit int, before *time.Time) ([]models.Message, error) {
	clamped := validation.FetchLimit(limit)

	msgs, err := m.Store.ListMessagesBefore(ctx, channelID, before, clamped)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
