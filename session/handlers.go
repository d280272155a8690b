package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fbarrella/reson8/broker"
	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/service"
	"github.com/fbarrella/reson8/sfu"
	"github.com/fbarrella/reson8/store"
	"github.com/fbarrella/reson8/tree"
	"github.com/fbarrella/reson8/validation"
)

// handler is the signature every dispatch table entry implements. It
// returns the ack's Data payload on success.
type handler func(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error)

var handlers = map[string]handler{
	EventUserJoinServer:  handleJoinServer,
	EventUserLeaveServer: handleLeaveServer,
	EventUserJoinChannel: handleJoinChannel,
	EventUserLeaveChannel: handleLeaveChannel,
	EventChannelMoved:    handleChannelMoved,
	EventCreateChannel:   handleCreateChannel,
	EventDeleteChannel:   handleDeleteChannel,
	EventUpdateChannel:   handleUpdateChannel,
	EventSendMessage:     handleSendMessage,
	EventFetchMessages:   handleFetchMessages,
	EventGetAllUsers:     handleGetAllUsers,
	EventGetRoles:        handleGetRoles,
	EventAssignRole:      handleAssignRole,
	EventCreateRole:      handleCreateRole,
	EventUpdateRole:      handleUpdateRole,
	EventDeleteRole:      handleDeleteRole,
	EventFetchUserProfile: handleFetchUserProfile,

	EventGetRouterCapabilities: handleGetRouterCapabilities,
	EventCreateWebRTCTransport: handleCreateTransport,
	EventConnectTransport:      handleConnectTransport,
	EventProduce:               handleProduce,
	EventConsume:               handleConsume,
	EventResumeConsumer:        handleResumeConsumer,
	EventCloseProducer:         handleCloseProducer,
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errInvalidInput("malformed payload", err)
	}
	if err := validation.Struct(v); err != nil {
		return errInvalidInput(err.Error(), err)
	}
	return nil
}

// ---- server / channel membership ----

type joinServerRequest struct {
	UserID     string `json:"userId" validate:"required"`
	Nickname   string `json:"nickname" validate:"required"`
	Credential string `json:"credential"`
}

// handleJoinServer implements JOIN_SERVER (spec.md §4.1): upsert the
// user, ensure default role membership, register presence, subscribe to
// the server room, emit the initial tree, and broadcast USER_JOINED to
// everyone else.
func handleJoinServer(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req joinServerRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.InstallationID(req.UserID); err != nil {
		return nil, errInvalidInput(err.Error(), nil)
	}
	nickname, err := validation.Nickname(req.Nickname)
	if err != nil {
		return nil, errInvalidInput(err.Error(), nil)
	}

	if err := m.Store.UpsertUser(ctx, models.User{ID: req.UserID, Username: req.UserID, Nickname: nickname, Credential: req.Credential}); err != nil {
		return nil, errBackend("upserting user", err)
	}

	if err := m.Store.AssignRole(ctx, req.UserID, m.defaultRoleID); err != nil {
		return nil, errBackend("assigning default role", err)
	}
	if m.AdminInstanceID != "" && req.UserID == m.AdminInstanceID {
		if err := m.Store.AssignRole(ctx, req.UserID, m.adminRoleID); err != nil {
			return nil, errBackend("assigning admin role", err)
		}
	}

	if err := m.Presence.JoinServer(ctx, req.UserID, m.ServerID, nickname); err != nil {
		return nil, errBackend("registering presence", err)
	}
	if err := m.Broker.Subscribe(ctx, broker.Key(broker.RoomServer, m.ServerID), s.ConnectionID); err != nil {
		return nil, errBackend("subscribing to server room", err)
	}

	s.UserID = req.UserID
	s.Nickname = nickname
	s.ServerID = m.ServerID

	nodes, err := m.Channels.Tree(ctx, m.ServerID)
	if err != nil {
		return nil, errBackend("building channel tree", err)
	}

	if err := m.Broker.PublishExcept(ctx, broker.Key(broker.RoomServer, m.ServerID), OutUserJoined, struct {
		UserID   string `json:"userId"`
		Nickname string `json:"nickname"`
	}{req.UserID, nickname}, s.ConnectionID); err != nil {
		m.Sugar.Errorf("session: broadcasting USER_JOINED: %v", err)
	}

	return struct {
		ServerID int64       `json:"serverId,string"`
		Tree     []*tree.Node `json:"tree"`
	}{m.ServerID, nodes}, nil
}

// handleLeaveServer implements LEAVE_SERVER.
func handleLeaveServer(ctx context.Context, m *Manager, s *Session, _ json.RawMessage) (any, error) {
	if s.CurrentChannelID != nil {
		m.leaveChannelCleanup(ctx, s, *s.CurrentChannelID)
	}
	m.Broker.UnsubscribeAll(ctx, s.ConnectionID)

	if err := m.Presence.LeaveServer(ctx, s.UserID, s.ServerID); err != nil {
		return nil, errBackend("clearing server presence", err)
	}

	if err := m.Broker.Publish(ctx, broker.Key(broker.RoomServer, s.ServerID), OutUserLeft, struct {
		UserID string `json:"userId"`
	}{s.UserID}); err != nil {
		m.Sugar.Errorf("session: broadcasting USER_LEFT: %v", err)
	}

	s.UserID = ""
	s.CurrentChannelID = nil
	return nil, nil
}

type joinChannelRequest struct {
	ChannelID int64 `json:"channelId,string" validate:"required"`
}

// handleJoinChannel implements USER_JOIN_CHANNEL.
func handleJoinChannel(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req joinChannelRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	if _, err := m.Store.GetChannel(ctx, req.ChannelID); err != nil {
		return nil, errNotFound("channel not found", err)
	}

	if s.CurrentChannelID != nil {
		if err := m.Broker.Unsubscribe(ctx, broker.Key(broker.RoomChannel, *s.CurrentChannelID), s.ConnectionID); err != nil {
			m.Sugar.Errorf("session: unsubscribing from previous channel room: %v", err)
		}
	}

	if err := m.Broker.Subscribe(ctx, broker.Key(broker.RoomChannel, req.ChannelID), s.ConnectionID); err != nil {
		return nil, errBackend("subscribing to channel room", err)
	}
	if err := m.Presence.JoinChannel(ctx, s.UserID, req.ChannelID); err != nil {
		return nil, errBackend("updating presence", err)
	}
	s.CurrentChannelID = &req.ChannelID

	if err := m.Broker.Publish(ctx, broker.Key(broker.RoomServer, s.ServerID), OutPresenceUpdate, struct {
		UserID    string `json:"userId"`
		ChannelID int64  `json:"channelId,string"`
	}{s.UserID, req.ChannelID}); err != nil {
		m.Sugar.Errorf("session: broadcasting PRESENCE_UPDATE: %v", err)
	}

	occupants, err := m.Presence.ChannelOccupants(ctx, req.ChannelID)
	if err != nil {
		return nil, errBackend("listing channel occupants", err)
	}
	nicknames := make(map[string]string, len(occupants))
	for _, userID := range occupants {
		if meta, ok, _ := m.Presence.Get(ctx, userID); ok {
			nicknames[userID] = meta.Nickname
		}
	}
	existing := m.SFU.ExistingProducers(req.ChannelID, s.UserID, nicknames)
	s.send(OutEnvelope{Event: OutExistingProducers, Data: existing})

	return nil, nil
}

// handleLeaveChannel implements USER_LEAVE_CHANNEL.
func handleLeaveChannel(ctx context.Context, m *Manager, s *Session, _ json.RawMessage) (any, error) {
	if s.CurrentChannelID == nil {
		return nil, errPrecondition("not in a channel")
	}
	m.leaveChannelCleanup(ctx, s, *s.CurrentChannelID)
	return nil, nil
}

// ---- channel CRUD ----

type createChannelRequest struct {
	Name     string             `json:"name" validate:"required"`
	Type     models.ChannelType `json:"type" validate:"required"`
	ParentID *int64             `json:"parentId,string"`
	MaxUsers *int               `json:"maxUsers"`
}

func handleCreateChannel(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req createChannelRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	ch, err := m.Channels.Create(ctx, s.ServerID, req.Name, req.Type, req.ParentID, req.MaxUsers)
	if err != nil {
		return nil, errInvalidInput("creating channel", err)
	}
	return ch, nil
}

type updateChannelRequest struct {
	ChannelID int64              `json:"channelId,string" validate:"required"`
	Name      string             `json:"name" validate:"required"`
	Type      models.ChannelType `json:"type" validate:"required"`
	ParentID  *int64             `json:"parentId,string"`
	Position  int                `json:"position"`
	MaxUsers  *int               `json:"maxUsers"`
}

func handleUpdateChannel(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req updateChannelRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	err := m.Channels.Update(ctx, s.ServerID, models.Channel{
		ID: req.ChannelID, ServerID: s.ServerID, Name: req.Name, Type: req.Type,
		ParentID: req.ParentID, Position: req.Position, MaxUsers: req.MaxUsers,
	})
	if err != nil {
		if err == store.ErrCycle {
			return nil, errPrecondition("that move would create a cycle")
		}
		return nil, errBackend("updating channel", err)
	}
	return nil, nil
}

type channelMovedRequest struct {
	ChannelID int64  `json:"channelId,string" validate:"required"`
	ParentID  *int64 `json:"parentId,string"`
	Position  int    `json:"position"`
}

// handleChannelMoved implements CHANNEL_MOVED, a reposition-only
// convenience over UPDATE_CHANNEL that leaves name/type untouched.
func handleChannelMoved(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req channelMovedRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	ch, err := m.Store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, errNotFound("channel not found", err)
	}
	ch.ParentID = req.ParentID
	ch.Position = req.Position

	if err := m.Channels.Update(ctx, s.ServerID, ch); err != nil {
		if err == store.ErrCycle {
			return nil, errPrecondition("that move would create a cycle")
		}
		return nil, errBackend("moving channel", err)
	}
	return nil, nil
}

type deleteChannelRequest struct {
	ChannelID int64 `json:"channelId,string" validate:"required"`
}

func handleDeleteChannel(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req deleteChannelRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := m.Channels.Delete(ctx, s.ServerID, req.ChannelID); err != nil {
		return nil, errBackend("deleting channel", err)
	}
	return nil, nil
}

// ---- messages ----

type sendMessageRequest struct {
	ChannelID int64  `json:"channelId,string" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

func handleSendMessage(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req sendMessageRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	msg, err := m.Messages.Send(ctx, s.ServerID, req.ChannelID, s.UserID, req.Content)
	if err != nil {
		return nil, errInvalidInput("sending message", err)
	}
	return msg, nil
}

type fetchMessagesRequest struct {
	ChannelID int64   `json:"channelId,string" validate:"required"`
	Limit     int     `json:"limit"`
	Before    *string `json:"before"`
}

func handleFetchMessages(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req fetchMessagesRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	var before *time.Time
	if req.Before != nil {
		t, err := time.Parse(time.RFC3339, *req.Before)
		if err != nil {
			return nil, errInvalidInput("before must be an ISO-8601 timestamp", err)
		}
		before = &t
	}

	msgs, err := m.Messages.Fetch(ctx, req.ChannelID, req.Limit, before)
	if err != nil {
		return nil, errBackend("fetching messages", err)
	}
	return msgs, nil
}

// ---- admin ----

func handleGetAllUsers(ctx context.Context, m *Manager, s *Session, _ json.RawMessage) (any, error) {
	users, err := m.Admin.Users(ctx, s.ServerID)
	if err != nil {
		return nil, errBackend("listing users", err)
	}
	return users, nil
}

func handleGetRoles(ctx context.Context, m *Manager, s *Session, _ json.RawMessage) (any, error) {
	roles, err := m.Admin.Roles(ctx, s.ServerID)
	if err != nil {
		return nil, errBackend("listing roles", err)
	}
	return roles, nil
}

type assignRoleRequest struct {
	UserID string `json:"userId" validate:"required"`
	RoleID int64  `json:"roleId,string" validate:"required"`
	Action string `json:"action" validate:"required,oneof=add remove"`
}

func handleAssignRole(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req assignRoleRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := m.Admin.AssignRole(ctx, req.UserID, req.RoleID, service.RoleAction(req.Action)); err != nil {
		return nil, errInvalidInput("assigning role", err)
	}
	return nil, nil
}

type roleRequest struct {
	RoleID      int64   `json:"roleId,string"`
	Name        string  `json:"name"`
	Permissions uint64  `json:"permissions,string"`
	PowerLevel  int     `json:"powerLevel"`
	Color       *string `json:"color"`
}

func handleCreateRole(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req roleRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	role, err := m.Roles.Create(ctx, s.ServerID, req.Name, req.Permissions, req.PowerLevel, req.Color)
	if err != nil {
		return nil, errInvalidInput("creating role", err)
	}
	return role, nil
}

func handleUpdateRole(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req roleRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	err := m.Roles.Update(ctx, models.Role{
		ID: req.RoleID, ServerID: s.ServerID, Name: req.Name, Permissions: req.Permissions,
		PowerLevel: req.PowerLevel, Color: req.Color,
	})
	if err != nil {
		return nil, errInvalidInput("updating role", err)
	}
	return nil, nil
}

func handleDeleteRole(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req roleRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := m.Roles.Delete(ctx, req.RoleID); err != nil {
		return nil, errBackend("deleting role", err)
	}
	return nil, nil
}

type fetchUserProfileRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// handleFetchUserProfile implements the SPEC_FULL.md §10 convenience op:
// nickname plus roles for a single user, adapted from the teacher's
// GetUserInfo/GetMemberList handlers.
func handleFetchUserProfile(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req fetchUserProfileRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	user, err := m.Store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, errNotFound("user not found", err)
	}
	roles, err := m.Store.RolesForUser(ctx, req.UserID, s.ServerID)
	if err != nil {
		return nil, errBackend("loading roles", err)
	}
	return models.UserWithRoles{User: user, Roles: roles}, nil
}

// ---- voice handshake ----

type channelScopedRequest struct {
	ChannelID int64 `json:"channelId,string" validate:"required"`
}

func requireInVoiceChannel(s *Session, channelID int64) error {
	if !s.inVoiceChannel(channelID) {
		return errPrecondition("you must join that channel before using voice operations on it")
	}
	return nil
}

func handleGetRouterCapabilities(_ context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req channelScopedRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := requireInVoiceChannel(s, req.ChannelID); err != nil {
		return nil, err
	}
	return m.SFU.GetRouterCapabilities(req.ChannelID), nil
}

type createTransportRequest struct {
	ChannelID int64        `json:"channelId,string" validate:"required"`
	Direction sfu.Direction `json:"direction" validate:"required"`
}

func handleCreateTransport(_ context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req createTransportRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := requireInVoiceChannel(s, req.ChannelID); err != nil {
		return nil, err
	}

	info, err := m.SFU.CreateTransport(req.ChannelID, s.UserID, req.Direction)
	if err != nil {
		return nil, errBackend("creating transport", err)
	}
	return info, nil
}

type connectTransportRequest struct {
	ChannelID   int64  `json:"channelId,string" validate:"required"`
	TransportID string `json:"transportId" validate:"required"`
	SDP         string `json:"sdp" validate:"required"`
}

func handleConnectTransport(_ context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req connectTransportRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := requireInVoiceChannel(s, req.ChannelID); err != nil {
		return nil, err
	}

	if err := m.SFU.ConnectTransport(req.ChannelID, s.UserID, req.TransportID, req.SDP); err != nil {
		return nil, errPrecondition(err.Error())
	}
	return nil, nil
}

func handleProduce(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req channelScopedRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := requireInVoiceChannel(s, req.ChannelID); err != nil {
		return nil, err
	}

	producerID, err := m.SFU.Produce(req.ChannelID, s.UserID)
	if err != nil {
		return nil, errPrecondition(err.Error())
	}

	if err := m.Broker.PublishExcept(ctx, broker.Key(broker.RoomChannel, req.ChannelID), OutNewProducer, struct {
		UserID     string `json:"userId"`
		Nickname   string `json:"nickname"`
		ProducerID string `json:"producerId"`
	}{s.UserID, s.Nickname, producerID}, s.ConnectionID); err != nil {
		m.Sugar.Errorf("session: broadcasting NEW_PRODUCER: %v", err)
	}

	return struct {
		ProducerID string `json:"producerId"`
	}{producerID}, nil
}

type consumeRequest struct {
	ChannelID       int64                  `json:"channelId,string" validate:"required"`
	ProducerID      string                 `json:"producerId" validate:"required"`
	RTPCapabilities sfu.RouterCapabilities `json:"rtpCapabilities"`
}

func handleConsume(_ context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req consumeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := requireInVoiceChannel(s, req.ChannelID); err != nil {
		return nil, err
	}

	info, err := m.SFU.Consume(req.ChannelID, s.UserID, req.ProducerID, req.RTPCapabilities)
	if err != nil {
		return nil, errPrecondition(err.Error())
	}
	return info, nil
}

type resumeConsumerRequest struct {
	ChannelID  int64  `json:"channelId,string" validate:"required"`
	ConsumerID string `json:"consumerId" validate:"required"`
}

func handleResumeConsumer(_ context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req resumeConsumerRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := requireInVoiceChannel(s, req.ChannelID); err != nil {
		return nil, err
	}

	if err := m.SFU.ResumeConsumer(req.ChannelID, s.UserID, req.ConsumerID); err != nil {
		return nil, errNotFound(err.Error(), nil)
	}
	return nil, nil
}

func handleCloseProducer(ctx context.Context, m *Manager, s *Session, data json.RawMessage) (any, error) {
	var req channelScopedRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := requireInVoiceChannel(s, req.ChannelID); err != nil {
		return nil, err
	}

	closedID, ok := m.SFU.CloseProducer(req.ChannelID, s.UserID)
	if !ok {
		return nil, errNotFound("no active producer", nil)
	}

	if err := m.Broker.Publish(ctx, broker.Key(broker.RoomChannel, req.ChannelID), OutProducerClosed, struct {
		ProducerID string `json:"producerId"`
		UserID     string `json:"userId"`
	}{closedID, s.UserID}); err != nil {
		m.Sugar.Errorf("session: broadcasting PRODUCER_CLOSED: %v", err)
	}
	return nil, nil
}
