// Package presence implements the volatile Presence Store of spec.md
// §4.3: O(1) "who is online" queries, keyed by server and by channel,
// plus a per-user metadata record with a TTL. It is grounded on the
// teacher's internal/keyValue package — the same selfContained/redis
// toggle, the same background-ticker TTL sweep for the in-process mode —
// generalized from a flat string store to the membership-set + metadata
// shape this component needs.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultTTL is the default lifetime of a presence record (spec.md
// §3: "default 1 hour, refreshed on channel change").
const DefaultTTL = time.Hour

// Metadata is the per-user presence record of spec.md §3.
type Metadata struct {
	ServerID  int64  `json:"serverId"`
	ChannelID int64  `json:"channelId"` // 0 means "no channel"
	Nickname  string `json:"nickname"`
}

// Store is satisfied by both the in-process and the redis-backed
// implementation, so the rest of the server never branches on
// deployment mode.
type Store interface {
	// JoinServer registers userID as online on serverID.
	JoinServer(ctx context.Context, userID string, serverID int64, nickname string) error
	// LeaveServer removes userID from serverID and from whatever
	// channel it currently occupies, and deletes its metadata — all in
	// one atomic step (spec.md §4.3).
	LeaveServer(ctx context.Context, userID string, serverID int64) error

	// JoinChannel atomically moves userID from its previous channel (if
	// any) into channelID, refreshing TTL (spec.md §4.3).
	JoinChannel(ctx context.Context, userID string, channelID int64) error
	// LeaveChannel removes userID from its current channel without
	// touching server membership.
	LeaveChannel(ctx context.Context, userID string) error

	ServerMembers(ctx context.Context, serverID int64) ([]string, error)
	ChannelOccupants(ctx context.Context, channelID int64) ([]string, error)
	Get(ctx context.Context, userID string) (Metadata, bool, error)
}

// ---- in-process implementation ----

type entry struct {
	meta    Metadata
	expires time.Time
}

// MemoryStore is a single-process Store protected by one mutex, held for
// the duration of each multi-step update per spec.md §4.3's "an
// in-process implementation must hold a lock for the duration".
type MemoryStore struct {
	mu       sync.Mutex
	byUser   map[string]entry
	byServer map[int64]map[string]struct{}
	byChan   map[int64]map[string]struct{}
	ttl      time.Duration
	sugar    *zap.SugaredLogger
	stop     chan struct{}
}

func NewMemoryStore(sugar *zap.SugaredLogger, ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		byUser:   make(map[string]entry),
		byServer: make(map[int64]map[string]struct{}),
		byChan:   make(map[int64]map[string]struct{}),
		ttl:      ttl,
		sugar:    sugar,
		stop:     make(chan struct{}),
	}
	go s.sweepExpired()
	return s
}

func (s *MemoryStore) Close() {
	close(s.stop)
}

func (s *MemoryStore) sweepExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for userID, e := range s.byUser {
				if e.expires.Before(now) {
					s.removeLocked(userID)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryStore) removeLocked(userID string) {
	e, ok := s.byUser[userID]
	if !ok {
		return
	}
	if set, ok := s.byServer[e.meta.ServerID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(s.byServer, e.meta.ServerID)
		}
	}
	if e.meta.ChannelID != 0 {
		if set, ok := s.byChan[e.meta.ChannelID]; ok {
			delete(set, userID)
			if len(set) == 0 {
				delete(s.byChan, e.meta.ChannelID)
			}
		}
	}
	delete(s.byUser, userID)
}

func (s *MemoryStore) JoinServer(_ context.Context, userID string, serverID int64, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byUser[userID] = entry{meta: Metadata{ServerID: serverID, Nickname: nickname}, expires: time.Now().Add(s.ttl)}
	if s.byServer[serverID] == nil {
		s.byServer[serverID] = make(map[string]struct{})
	}
	s.byServer[serverID][userID] = struct{}{}
	return nil
}

func (s *MemoryStore) LeaveServer(_ context.Context, userID string, serverID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(userID)
	_ = serverID
	return nil
}

func (s *MemoryStore) JoinChannel(_ context.Context, userID string, channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byUser[userID]
	if !ok {
		return fmt.Errorf("presence: user %s has no active server membership", userID)
	}

	if e.meta.ChannelID != 0 {
		if set, ok := s.byChan[e.meta.ChannelID]; ok {
			delete(set, userID)
			if len(set) == 0 {
				delete(s.byChan, e.meta.ChannelID)
			}
		}
	}

	e.meta.ChannelID = channelID
	e.expires = time.Now().Add(s.ttl)
	s.byUser[userID] = e

	if s.byChan[channelID] == nil {
		s.byChan[channelID] = make(map[string]struct{})
	}
	s.byChan[channelID][userID] = struct{}{}
	return nil
}

func (s *MemoryStore) LeaveChannel(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byUser[userID]
	if !ok || e.meta.ChannelID == 0 {
		return nil
	}

	if set, ok := s.byChan[e.meta.ChannelID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(s.byChan, e.meta.ChannelID)
		}
	}
	e.meta.ChannelID = 0
	s.byUser[userID] = e
	return nil
}

func (s *MemoryStore) ServerMembers(_ context.Context, serverID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.byServer[serverID]
	out := make([]string, 0, len(set))
	for userID := range set {
		out = append(out, userID)
	}
	return out, nil
}

func (s *MemoryStore) ChannelOccupants(_ context.Context, channelID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.byChan[channelID]
	out := make([]string, 0, len(set))
	for userID := range set {
		out = append(out, userID)
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Metadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byUser[userID]
	if !ok {
		return Metadata{}, false, nil
	}
	return e.meta, true, nil
}

// ---- redis-backed implementation ----

// RedisStore uses redis sets for membership and a string key with TTL
// for metadata, driving multi-key updates through a MULTI/EXEC
// transactional pipeline so they commit atomically (spec.md §4.3).
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	sugar  *zap.SugaredLogger
}

func NewRedisStore(client *redis.Client, sugar *zap.SugaredLogger, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, sugar: sugar}
}

func serverKey(serverID int64) string  { return fmt.Sprintf("presence:server:%d", serverID) }
func channelKey(channelID int64) string { return fmt.Sprintf("presence:channel:%d", channelID) }
func metaKey(userID string) string     { return fmt.Sprintf("presence:user:%s", userID) }

func (s *RedisStore) JoinServer(ctx context.Context, userID string, serverID int64, nickname string) error {
	meta := Metadata{ServerID: serverID, Nickname: nickname}
	bytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, serverKey(serverID), userID)
		pipe.Set(ctx, metaKey(userID), bytes, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) LeaveServer(ctx context.Context, userID string, serverID int64) error {
	meta, found, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, serverKey(serverID), userID)
		if found && meta.ChannelID != 0 {
			pipe.SRem(ctx, channelKey(meta.ChannelID), userID)
		}
		pipe.Del(ctx, metaKey(userID))
		return nil
	})
	return err
}

func (s *RedisStore) JoinChannel(ctx context.Context, userID string, channelID int64) error {
	meta, found, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("presence: user %s has no active server membership", userID)
	}

	previousChannel := meta.ChannelID
	meta.ChannelID = channelID

	bytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previousChannel != 0 {
			pipe.SRem(ctx, channelKey(previousChannel), userID)
		}
		pipe.SAdd(ctx, channelKey(channelID), userID)
		pipe.Set(ctx, metaKey(userID), bytes, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) LeaveChannel(ctx context.Context, userID string) error {
	meta, found, err := s.Get(ctx, userID)
	if err != nil || !found || meta.ChannelID == 0 {
		return err
	}

	previousChannel := meta.ChannelID
	meta.ChannelID = 0

	bytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, channelKey(previousChannel), userID)
		pipe.Set(ctx, metaKey(userID), bytes, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) ServerMembers(ctx context.Context, serverID int64) ([]string, error) {
	return s.client.SMembers(ctx, serverKey(serverID)).Result()
}

func (s *RedisStore) ChannelOccupants(ctx context.Context, channelID int64) ([]string, error) {
	return s.client.SMembers(ctx, channelKey(channelID)).Result()
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Metadata, bool, error) {
	value, err := s.client.Get(ctx, metaKey(userID)).Result()
	if err == redis.Nil {
		return Metadata{}, false, nil
	} else if err != nil {
		return Metadata{}, false, err
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(value), &meta); err != nil {
		return Metadata{}, false, err
	}
	return meta, true, nil
}
