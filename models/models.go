// Package models holds the entities of spec.md §3, shared between the
// store, presence, session, and service packages so none of them needs
// to duplicate field layouts.
package models

import "time"

// ChannelType distinguishes text-capable channels from voice-capable
// ones. Per SPEC_FULL.md §9 (Open Question: channel types and
// categories, option (b)) any channel may have children regardless of
// its type — VOICE channels double as the "category" concept the
// original system overloads.
type ChannelType string

const (
	ChannelTypeText  ChannelType = "TEXT"
	ChannelTypeVoice ChannelType = "VOICE"
)

type Server struct {
	ID         int64     `json:"id,string"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	MaxClients int       `json:"maxClients"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Channel struct {
	ID        int64       `json:"id,string"`
	ServerID  int64       `json:"serverId,string"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	ParentID  *int64      `json:"parentId,string"`
	Position  int         `json:"position"`
	MaxUsers  *int        `json:"maxUsers"`
	CreatedAt time.Time   `json:"createdAt"`
}

// User is keyed by the client-supplied persistent installation
// identifier (spec.md §1 Non-goals: no external identity provider).
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Nickname   string    `json:"nickname"`
	Credential string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Role.Permissions is a bitfield at least 64 bits wide (spec.md §4.4,
// §9). It is serialized as a decimal string on the wire to survive
// JSON's float64 precision ceiling.
type Role struct {
	ID          int64     `json:"id,string"`
	ServerID    int64     `json:"serverId,string"`
	Name        string    `json:"name"`
	Permissions uint64    `json:"permissions,string"`
	PowerLevel  int       `json:"powerLevel"`
	Color       *string   `json:"color"`
	CreatedAt   time.Time `json:"createdAt"`
}

type RoleAssignment struct {
	UserID string `json:"userId"`
	RoleID int64  `json:"roleId,string"`
}

type Message struct {
	ID        int64     `json:"id,string"`
	ChannelID int64     `json:"channelId,string"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserWithRoles is the shape returned by GET_ALL_USERS (spec.md §4.9).
type UserWithRoles struct {
	User
	Roles []Role `json:"roles"`
}
