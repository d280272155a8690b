package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/fbarrella/reson8/broker"
	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/presence"
	"github.com/fbarrella/reson8/snowflake"
	"github.com/fbarrella/reson8/tree"
	"github.com/fbarrella/reson8/validation"
)

// ChannelStore is the subset of *store.Store the Channel service needs.
type ChannelStore interface {
	CreateChannel(ctx context.Context, ch models.Channel) (models.Channel, error)
	GetChannel(ctx context.Context, id int64) (models.Channel, error)
	ListChannels(ctx context.Context, serverID int64) ([]models.Channel, error)
	UpdateChannel(ctx context.Context, ch models.Channel) error
	DeleteChannel(ctx context.Context, id int64) error
}

// Channel implements spec.md §4.8: CRUD that concludes with rebuilding
// and broadcasting the server's channel tree.
type Channel struct {
	Store    ChannelStore
	Presence presence.Store
	Broker   broker.Broker
	Sugar    *zap.SugaredLogger
}

func NewChannel(store ChannelStore, p presence.Store, b broker.Broker, sugar *zap.SugaredLogger) *Channel {
	return &Channel{Store: store, Presence: p, Broker: b, Sugar: sugar}
}

// Create persists a new channel — position is auto-computed by the
// store as max(siblings.position)+1 — then rebroadcasts the tree.
func (c *Channel) Create(ctx context.Context, serverID int64, name string, chanType models.ChannelType, parentID *int64, maxUsers *int) (models.Channel, error) {
	trimmed, err := validation.ChannelName(name)
	if err != nil {
		return models.Channel{}, err
	}

	id, err := snowflake.Generate()
	if err != nil {
		return models.Channel{}, err
	}

	ch, err := c.Store.CreateChannel(ctx, models.Channel{
		ID: id, ServerID: serverID, Name: trimmed, Type: chanType, ParentID: parentID, MaxUsers: maxUsers,
	})
	if err != nil {
		return models.Channel{}, err
	}

	if err := c.broadcastTree(ctx, serverID); err != nil {
		c.Sugar.Errorf("service: broadcasting CHANNEL_TREE_UPDATE after create: %v", err)
	}
	return ch, nil
}

// Update overwrites the channel's editable fields with ch's values and
// rebroadcasts the tree.
func (c *Channel) Update(ctx context.Context, serverID int64, ch models.Channel) error {
	trimmed, err := validation.ChannelName(ch.Name)
	if err != nil {
		return err
	}
	ch.Name = trimmed

	if err := c.Store.UpdateChannel(ctx, ch); err != nil {
		return err
	}

	if err := c.broadcastTree(ctx, serverID); err != nil {
		c.Sugar.Errorf("service: broadcasting CHANNEL_TREE_UPDATE after update: %v", err)
	}
	return nil
}

// Delete removes a channel, cascading children to roots and messages to
// deletion in the store, then broadcasts both CHANNEL_TREE_UPDATE and
// CHANNEL_DELETED (spec.md §4.8).
func (c *Channel) Delete(ctx context.Context, serverID int64, channelID int64) error {
	if err := c.Store.DeleteChannel(ctx, channelID); err != nil {
		return err
	}

	room := broker.Key(broker.RoomServer, serverID)
	if err := c.Broker.Publish(ctx, room, "CHANNEL_DELETED", struct {
		ChannelID int64 `json:"channelId,string"`
	}{channelID}); err != nil {
		c.Sugar.Errorf("service: broadcasting CHANNEL_DELETED: %v", err)
	}

	if err := c.broadcastTree(ctx, serverID); err != nil {
		c.Sugar.Errorf("service: broadcasting CHANNEL_TREE_UPDATE after delete: %v", err)
	}
	return nil
}

// Tree materializes the server's channel forest with occupants filled
// in from the Presence Store (spec.md §4.2: "occupants are populated by
// a separate Presence query when the tree is emitted").
func (c *Channel) Tree(ctx context.Context, serverID int64) ([]*tree.Node, error) {
	rows, err := c.Store.ListChannels(ctx, serverID)
	if err != nil {
		return nil, err
	}

	nodes := tree.Build(rows)
	var fillErr error
	var walk func([]*tree.Node)
	walk = func(ns []*tree.Node) {
		for _, n := range ns {
			occupants, err := c.Presence.ChannelOccupants(ctx, n.ID)
			if err != nil {
				fillErr = err
				return
			}
			n.Occupants = occupants
			walk(n.Children)
		}
	}
	walk(nodes)
	return nodes, fillErr
}

func (c *Channel) broadcastTree(ctx context.Context, serverID int64) error {
	nodes, err := c.Tree(ctx, serverID)
	if err != nil {
		return err
	}
	return c.Broker.Publish(ctx, broker.Key(broker.RoomServer, serverID), "CHANNEL_TREE_UPDATE", nodes)
}
