package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/fbarrella/reson8/presence"
)

func newStore(t *testing.T) *presence.MemoryStore {
	t.Helper()
	s := presence.NewMemoryStore(nil, time.Hour)
	t.Cleanup(s.Close)
	return s
}

func TestJoinServerThenGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.JoinServer(ctx, "u1", 1, "Nick"); err != nil {
		t.Fatalf("JoinServer: %v", err)
	}

	meta, ok, err := s.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Get: found=%v err=%v", ok, err)
	}
	if meta.ServerID != 1 || meta.Nickname != "Nick" || meta.ChannelID != 0 {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	members, err := s.ServerMembers(ctx, 1)
	if err != nil || len(members) != 1 || members[0] != "u1" {
		t.Errorf("ServerMembers = %v, err %v", members, err)
	}
}

func TestJoinChannelMovesUserAtomically(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	if err := s.JoinServer(ctx, "u1", 1, "Nick"); err != nil {
		t.Fatalf("JoinServer: %v", err)
	}
	if err := s.JoinChannel(ctx, "u1", 10); err != nil {
		t.Fatalf("JoinChannel(10): %v", err)
	}
	if err := s.JoinChannel(ctx, "u1", 20); err != nil {
		t.Fatalf("JoinChannel(20): %v", err)
	}

	occupants10, _ := s.ChannelOccupants(ctx, 10)
	if len(occupants10) != 0 {
		t.Errorf("expected channel 10 empty after move, got %v", occupants10)
	}
	occupants20, _ := s.ChannelOccupants(ctx, 20)
	if len(occupants20) != 1 || occupants20[0] != "u1" {
		t.Errorf("expected u1 in channel 20, got %v", occupants20)
	}

	meta, _, _ := s.Get(ctx, "u1")
	if meta.ChannelID != 20 {
		t.Errorf("expected metadata channelId 20, got %d", meta.ChannelID)
	}
}

func TestJoinChannelWithoutServerFails(t *testing.T) {
	s := newStore(t)
	if err := s.JoinChannel(context.Background(), "ghost", 10); err == nil {
		t.Error("expected error joining a channel without prior server membership")
	}
}

func TestLeaveServerRemovesChannelAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_ = s.JoinServer(ctx, "u1", 1, "Nick")
	_ = s.JoinChannel(ctx, "u1", 10)

	if err := s.LeaveServer(ctx, "u1", 1); err != nil {
		t.Fatalf("LeaveServer: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "u1"); ok {
		t.Error("expected metadata removed after LeaveServer")
	}
	if members, _ := s.ServerMembers(ctx, 1); len(members) != 0 {
		t.Errorf("expected no server members, got %v", members)
	}
	if occupants, _ := s.ChannelOccupants(ctx, 10); len(occupants) != 0 {
		t.Errorf("expected no channel occupants, got %v", occupants)
	}
}

func TestLeaveChannelKeepsServerMembership(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_ = s.JoinServer(ctx, "u1", 1, "Nick")
	_ = s.JoinChannel(ctx, "u1", 10)

	if err := s.LeaveChannel(ctx, "u1"); err != nil {
		t.Fatalf("LeaveChannel: %v", err)
	}

	meta, ok, _ := s.Get(ctx, "u1")
	if !ok || meta.ChannelID != 0 {
		t.Errorf("expected user still present with channelId 0, got found=%v meta=%+v", ok, meta)
	}
	if members, _ := s.ServerMembers(ctx, 1); len(members) != 1 {
		t.Errorf("expected server membership retained, got %v", members)
	}
}
