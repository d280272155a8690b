// Package broker implements the Room Broker of spec.md §4.6: fan-out of
// server-authored events to every session subscribed to a room. It
// generalizes the teacher's internal/hub pub/sub toggle (internal/hub's
// channels.go and localPubSub.go) — local, mutex-guarded fan-out when
// selfContained, a redis.Client when running with peers — from the
// teacher's single-subscription-per-connection model to named rooms
// ("channel:<id>", "server:<id>", "server_list") any number of sessions
// can join.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RoomKind enumerates the room namespaces the rest of the server
// publishes into. The teacher's equivalent constants lived in a
// chatapp-backend/internal/globals package that was never present in
// this repo's history, so these are defined fresh rather than copied.
type RoomKind string

const (
	RoomChannel    RoomKind = "channel"
	RoomServer     RoomKind = "server"
	RoomServerList RoomKind = "server_list"
)

// Key builds the room identifier used by both Broker implementations.
func Key(kind RoomKind, id int64) string {
	if kind == RoomServerList {
		return string(RoomServerList)
	}
	return fmt.Sprintf("%s:%d", kind, id)
}

// Dispatcher delivers a raw, already-framed message to one live session.
// The session package implements this over its connection registry; the
// broker never holds connections itself, only membership.
type Dispatcher interface {
	Send(sessionID string, message []byte) bool
}

// Broker is satisfied by both the in-process and the redis-backed
// implementation.
type Broker interface {
	Subscribe(ctx context.Context, room string, sessionID string) error
	Unsubscribe(ctx context.Context, room string, sessionID string) error
	UnsubscribeAll(ctx context.Context, sessionID string)
	Publish(ctx context.Context, room string, event string, payload any) error

	// PublishExcept is spec.md §4.6's socket.to(room).emit: delivers to
	// every current subscriber of room except exceptSessionID. Used for
	// join/produce notifications so the acting Session doesn't receive
	// its own event.
	PublishExcept(ctx context.Context, room string, event string, payload any, exceptSessionID string) error
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: event, Data: data})
}

// ---- in-process implementation ----

// LocalBroker mirrors internal/hub's LocalPubSub: a single RWMutex over a
// room-to-members map, with a reverse index so UnsubscribeAll (used on
// disconnect, spec.md §5) doesn't have to scan every room.
type LocalBroker struct {
	mu         sync.RWMutex
	members    map[string]map[string]struct{}
	sessions   map[string]map[string]struct{}
	dispatcher Dispatcher
	sugar      *zap.SugaredLogger
}

func NewLocalBroker(dispatcher Dispatcher, sugar *zap.SugaredLogger) *LocalBroker {
	return &LocalBroker{
		members:    make(map[string]map[string]struct{}),
		sessions:   make(map[string]map[string]struct{}),
		dispatcher: dispatcher,
		sugar:      sugar,
	}
}

func (b *LocalBroker) Subscribe(_ context.Context, room string, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.members[room] == nil {
		b.members[room] = make(map[string]struct{})
	}
	b.members[room][sessionID] = struct{}{}

	if b.sessions[sessionID] == nil {
		b.sessions[sessionID] = make(map[string]struct{})
	}
	b.sessions[sessionID][room] = struct{}{}
	return nil
}

func (b *LocalBroker) Unsubscribe(_ context.Context, room string, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(room, sessionID)
	return nil
}

func (b *LocalBroker) removeLocked(room string, sessionID string) {
	if set, ok := b.members[room]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(b.members, room)
		}
	}
	if set, ok := b.sessions[sessionID]; ok {
		delete(set, room)
		if len(set) == 0 {
			delete(b.sessions, sessionID)
		}
	}
}

func (b *LocalBroker) UnsubscribeAll(_ context.Context, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for room := range b.sessions[sessionID] {
		if set, ok := b.members[room]; ok {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(b.members, room)
			}
		}
	}
	delete(b.sessions, sessionID)
}

func (b *LocalBroker) Publish(ctx context.Context, room string, event string, payload any) error {
	return b.PublishExcept(ctx, room, event, payload, "")
}

func (b *LocalBroker) PublishExcept(_ context.Context, room string, event string, payload any, exceptSessionID string) error {
	message, err := encode(event, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sessionID := range b.members[room] {
		if sessionID == exceptSessionID {
			continue
		}
		if !b.dispatcher.Send(sessionID, message) {
			b.sugar.Warnf("broker: session %s subscribed to %s but is no longer reachable", sessionID, room)
		}
	}
	return nil
}

// ---- redis-backed implementation ----

// RedisBroker keeps the same room/session membership bookkeeping as
// LocalBroker, but opens exactly one redis subscription per room with at
// least one member, fanning each published message out to every session
// currently in that room — generalizing the teacher's one-PubSub-per-
// connection model (internal/hub.Client.PubSub) to one-PubSub-per-room so
// membership, not connection count, drives the redis subscription count.
type RedisBroker struct {
	mu         sync.Mutex
	client     *redis.Client
	dispatcher Dispatcher
	sugar      *zap.SugaredLogger

	members  map[string]map[string]struct{}
	sessions map[string]map[string]struct{}
	subs     map[string]*redisSub
}

type redisSub struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
}

// redisEnvelope carries the except-sender id alongside the already-
// encoded client frame across the redis wire, since a single publish
// may be fanned out by any node in the cluster: the except id has to
// travel with the message so every node's forward loop can apply the
// same exclusion the publishing node was asked for.
type redisEnvelope struct {
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

func NewRedisBroker(client *redis.Client, dispatcher Dispatcher, sugar *zap.SugaredLogger) *RedisBroker {
	return &RedisBroker{
		client:     client,
		dispatcher: dispatcher,
		sugar:      sugar,
		members:    make(map[string]map[string]struct{}),
		sessions:   make(map[string]map[string]struct{}),
		subs:       make(map[string]*redisSub),
	}
}

func (b *RedisBroker) Subscribe(ctx context.Context, room string, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.members[room] == nil {
		b.members[room] = make(map[string]struct{})
	}
	b.members[room][sessionID] = struct{}{}

	if b.sessions[sessionID] == nil {
		b.sessions[sessionID] = make(map[string]struct{})
	}
	b.sessions[sessionID][room] = struct{}{}

	if _, ok := b.subs[room]; ok {
		return nil
	}

	ps := b.client.Subscribe(ctx, room)
	subCtx, cancel := context.WithCancel(context.Background())
	b.subs[room] = &redisSub{ps: ps, cancel: cancel}

	go b.forward(subCtx, room, ps)
	return nil
}

func (b *RedisBroker) forward(ctx context.Context, room string, ps *redis.PubSub) {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.sugar.Errorf("broker: decoding redis envelope for room %s: %v", room, err)
				continue
			}

			b.mu.Lock()
			members := make([]string, 0, len(b.members[room]))
			for sessionID := range b.members[room] {
				members = append(members, sessionID)
			}
			b.mu.Unlock()

			for _, sessionID := range members {
				if sessionID == env.Except {
					continue
				}
				if !b.dispatcher.Send(sessionID, env.Frame) {
					b.sugar.Warnf("broker: session %s subscribed to %s but is no longer reachable", sessionID, room)
				}
			}
		}
	}
}

func (b *RedisBroker) Unsubscribe(_ context.Context, room string, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeLocked(room, sessionID)
}

func (b *RedisBroker) removeLocked(room string, sessionID string) error {
	if set, ok := b.members[room]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(b.members, room)
			if sub, ok := b.subs[room]; ok {
				sub.cancel()
				err := sub.ps.Close()
				delete(b.subs, room)
				if err != nil {
					return err
				}
			}
		}
	}
	if set, ok := b.sessions[sessionID]; ok {
		delete(set, room)
		if len(set) == 0 {
			delete(b.sessions, sessionID)
		}
	}
	return nil
}

func (b *RedisBroker) UnsubscribeAll(_ context.Context, sessionID string) {
	b.mu.Lock()
	rooms := make([]string, 0, len(b.sessions[sessionID]))
	for room := range b.sessions[sessionID] {
		rooms = append(rooms, room)
	}
	b.mu.Unlock()

	for _, room := range rooms {
		b.mu.Lock()
		if err := b.removeLocked(room, sessionID); err != nil {
			b.sugar.Errorf("broker: closing redis subscription for room %s: %v", room, err)
		}
		b.mu.Unlock()
	}
}

func (b *RedisBroker) Publish(ctx context.Context, room string, event string, payload any) error {
	return b.PublishExcept(ctx, room, event, payload, "")
}

func (b *RedisBroker) PublishExcept(ctx context.Context, room string, event string, payload any, exceptSessionID string) error {
	frame, err := encode(event, payload)
	if err != nil {
		return err
	}
	wrapped, err := json.Marshal(redisEnvelope{Except: exceptSessionID, Frame: frame})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, room, wrapped).Err()
}
