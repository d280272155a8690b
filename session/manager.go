package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fbarrella/reson8/broker"
	"github.com/fbarrella/reson8/models"
	"github.com/fbarrella/reson8/permission"
	"github.com/fbarrella/reson8/presence"
	"github.com/fbarrella/reson8/service"
	"github.com/fbarrella/reson8/sfu"
	"github.com/fbarrella/reson8/store"
)

// Conn is the minimal transport contract a Session writes frames
// through. The transport package's websocket implementation satisfies
// this; tests use a fake.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Session is the in-memory, per-connection state of spec.md §3: created
// on connect, destroyed on disconnect, mutated only by the single
// goroutine reading that connection's frames — the "actor-like owner
// loop" of spec.md §9, which gives per-Session ordering for free without
// an explicit lock around its own fields.
type Session struct {
	ConnectionID string
	conn         Conn
	writeMu      sync.Mutex

	UserID           string
	Nickname         string
	ServerID         int64
	CurrentChannelID *int64
}

func (s *Session) send(envelope any) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteMessage(data)
}

// inVoiceChannel reports whether the session currently occupies
// channelID — the "in voice channel" precondition of spec.md §4.1's
// voice event row.
func (s *Session) inVoiceChannel(channelID int64) bool {
	return s.CurrentChannelID != nil && *s.CurrentChannelID == channelID
}

// Manager owns the live Session registry and every service this Event
// Router dispatches into. It implements broker.Dispatcher so the Room
// Broker can deliver fan-out messages without holding connections
// itself (spec.md §4.6).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	Store      *store.Store
	Presence   presence.Store
	Broker     broker.Broker
	SFU        *sfu.Coordinator
	Evaluator  permission.Evaluator
	Messages   *service.Message
	Channels   *service.Channel
	Admin      *service.Admin
	Roles      *service.Role
	ServerID        int64
	AdminInstanceID string
	Sugar           *zap.SugaredLogger

	defaultRoleID int64
	adminRoleID   int64
}

func NewManager(sugar *zap.SugaredLogger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		Sugar:    sugar,
	}
}

const (
	defaultRoleName = "@everyone"
	adminRoleName   = "@admin"
)

// defaultRolePermissions is the membership-level permission set every
// JOIN_SERVER grants: able to connect/speak in voice and send text, but
// nothing administrative (spec.md §4.1: "ensure default role membership").
var defaultRolePermissions = uint64(permission.Connect | permission.Speak | permission.SendMessages)

// Bootstrap seeds the server row and the two well-known roles
// (@everyone and @admin) this Manager needs before any Session can
// JOIN_SERVER. It is idempotent: re-running it against an already
// seeded store is a no-op beyond the server row upsert. When
// seedTemplate is set (SPEC_FULL.md §6's `seedTemplate` key) it also
// seeds a starter text/voice channel pair, skipped if the server already
// has any channel; the two roles are seeded whether or not it is set.
func (m *Manager) Bootstrap(ctx context.Context, serverID int64, name, address string, maxClients int, seedTemplate bool) error {
	if err := m.Store.SeedServer(ctx, models.Server{ID: serverID, Name: name, Address: address, MaxClients: maxClients}); err != nil {
		return err
	}
	m.ServerID = serverID

	defaultRole, err := m.ensureRole(ctx, serverID, defaultRoleName, defaultRolePermissions, 0)
	if err != nil {
		return err
	}
	m.defaultRoleID = defaultRole

	adminRole, err := m.ensureRole(ctx, serverID, adminRoleName, uint64(permission.Admin), 1000)
	if err != nil {
		return err
	}
	m.adminRoleID = adminRole

	if seedTemplate {
		if err := m.seedDefaultChannels(ctx, serverID); err != nil {
			return err
		}
	}

	return nil
}

const (
	seedTextChannelName  = "General"
	seedVoiceChannelName = "General Voice"
)

// seedDefaultChannels creates a starter text/voice channel pair the
// first time a server boots with seedTemplate enabled. It checks for
// any existing channel first, since Channel.Create has no upsert-by-
// name path of its own.
func (m *Manager) seedDefaultChannels(ctx context.Context, serverID int64) error {
	existing, err := m.Store.ListChannels(ctx, serverID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	if _, err := m.Channels.Create(ctx, serverID, seedTextChannelName, models.ChannelTypeText, nil, nil); err != nil {
		return err
	}
	if _, err := m.Channels.Create(ctx, serverID, seedVoiceChannelName, models.ChannelTypeVoice, nil, nil); err != nil {
		return err
	}
	return nil
}

func (m *Manager) ensureRole(ctx context.Context, serverID int64, name string, perms uint64, powerLevel int) (int64, error) {
	role, err := m.Store.GetRoleByName(ctx, serverID, name)
	if err == nil {
		return role.ID, nil
	}
	if err != store.ErrNotFound {
		return 0, err
	}

	created, err := m.Roles.Create(ctx, serverID, name, perms, powerLevel, nil)
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

// Connect registers a new Session for a freshly accepted connection.
func (m *Manager) Connect(conn Conn) *Session {
	s := &Session{ConnectionID: uuid.NewString(), conn: conn}

	m.mu.Lock()
	m.sessions[s.ConnectionID] = s
	m.mu.Unlock()

	return s
}

// Send implements broker.Dispatcher.
func (m *Manager) Send(sessionID string, message []byte) bool {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(message) == nil
}

// Dispatch decodes and routes one inbound frame, enforcing the
// "joined"/permission preconditions of spec.md §4.1 before calling the
// handler, and always replying with an ack when the frame carried one.
// A panic inside a handler is recovered here, logged, and turned into a
// negative ack instead of tearing down the connection — the "wrapped so
// that an exception ... never leaks to the transport" rule of spec.md
// §4.1's last paragraph.
func (m *Manager) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.Sugar.Warnf("session: malformed frame from %s: %v", s.ConnectionID, err)
		return
	}

	result := m.dispatchRecovered(ctx, s, env)

	if env.AckID != "" {
		s.send(AckEnvelope{AckID: env.AckID, Result: result})
	} else if !result.Success {
		s.send(OutEnvelope{Event: OutError, Data: result})
	}
}

func (m *Manager) dispatchRecovered(ctx context.Context, s *Session, env Envelope) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			m.Sugar.Errorf("session: handler for %s panicked: %v", env.Event, r)
			result = Result{Success: false, Error: "internal error"}
		}
	}()

	m.Sugar.Debugf("session: dispatching %s for connection %s", env.Event, s.ConnectionID)

	if requiresJoin(env.Event) && s.UserID == "" {
		return m.renderErr(env.Event, errNotAuthenticated())
	}

	if flag, ok := requiredPermission[env.Event]; ok && flag != 0 {
		if err := m.requirePermission(ctx, s, flag); err != nil {
			return m.renderErr(env.Event, err)
		}
	}

	handler, ok := handlers[env.Event]
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown event %q", env.Event)}
	}

	data, err := handler(ctx, m, s, env.Data)
	if err != nil {
		return m.renderErr(env.Event, err)
	}
	return Result{Success: true, Data: data}
}

func (m *Manager) renderErr(event string, err error) Result {
	var sessionErr *Error
	if e, ok := err.(*Error); ok {
		sessionErr = e
	} else {
		sessionErr = errBackend("unexpected error", err)
	}

	if sessionErr.Cause != nil {
		m.Sugar.Errorf("session: handler for %s failed (%s): %v", event, sessionErr.Kind, sessionErr.Cause)
	} else {
		m.Sugar.Errorf("session: handler for %s failed (%s): %s", event, sessionErr.Kind, sessionErr.Message)
	}
	return Result{Success: false, Error: sessionErr.Message}
}

// requirePermission resolves the effective mask for (s.UserID, s.ServerID)
// and checks flag, short-circuiting for ADMIN (spec.md §4.4).
func (m *Manager) requirePermission(ctx context.Context, s *Session, flag permission.Flag) error {
	roles, err := m.Store.RolesForUser(ctx, s.UserID, s.ServerID)
	if err != nil {
		return errBackend("resolving permissions", err)
	}

	perms := make([]uint64, len(roles))
	for i, r := range roles {
		perms[i] = r.Permissions
	}
	mask := m.Evaluator.Effective(perms)

	if !permission.Check(mask, flag) {
		return errPermissionDenied(flag)
	}
	return nil
}

// Disconnect runs the cleanup sequence of spec.md §4.1's last paragraph
// in the required order: (1) SFU/voice teardown, (2) channel presence,
// (3) server presence, (4) USER_LEFT broadcast. Errors are logged but
// never abort later steps.
func (m *Manager) Disconnect(ctx context.Context, s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ConnectionID)
	m.mu.Unlock()

	if s.UserID == "" {
		return
	}

	if s.CurrentChannelID != nil {
		m.leaveChannelCleanup(ctx, s, *s.CurrentChannelID)
	}

	m.Broker.UnsubscribeAll(ctx, s.ConnectionID)

	if err := m.Presence.LeaveServer(ctx, s.UserID, s.ServerID); err != nil {
		m.Sugar.Errorf("session: clearing server presence for %s: %v", s.UserID, err)
	}

	if err := m.Broker.Publish(ctx, broker.Key(broker.RoomServer, s.ServerID), OutUserLeft, struct {
		UserID string `json:"userId"`
	}{s.UserID}); err != nil {
		m.Sugar.Errorf("session: broadcasting USER_LEFT: %v", err)
	}
}

// leaveChannelCleanup is the shared core of USER_LEAVE_CHANNEL and
// disconnect-time channel teardown: close any producer, release SFU
// state, unsubscribe, clear channel presence, and broadcast
// PRESENCE_UPDATE (spec.md §4.1, §4.5).
func (m *Manager) leaveChannelCleanup(ctx context.Context, s *Session, channelID int64) {
	if closedID, ok := m.SFU.CloseProducer(channelID, s.UserID); ok {
		if err := m.Broker.Publish(ctx, broker.Key(broker.RoomChannel, channelID), OutProducerClosed, struct {
			ProducerID string `json:"producerId"`
			UserID     string `json:"userId"`
		}{closedID, s.UserID}); err != nil {
			m.Sugar.Errorf("session: broadcasting PRODUCER_CLOSED: %v", err)
		}
	}
	m.SFU.LeaveChannel(channelID, s.UserID)

	if err := m.Broker.Unsubscribe(ctx, broker.Key(broker.RoomChannel, channelID), s.ConnectionID); err != nil {
		m.Sugar.Errorf("session: unsubscribing from channel room: %v", err)
	}
	if err := m.Presence.LeaveChannel(ctx, s.UserID); err != nil {
		m.Sugar.Errorf("session: clearing channel presence for %s: %v", s.UserID, err)
	}
	s.CurrentChannelID = nil

	if err := m.Broker.Publish(ctx, broker.Key(broker.RoomServer, s.ServerID), OutPresenceUpdate, struct {
		UserID    string `json:"userId"`
		ChannelID *int64 `json:"channelId,string"`
	}{s.UserID, nil}); err != nil {
		m.Sugar.Errorf("session: broadcasting PRESENCE_UPDATE: %v", err)
	}
}
