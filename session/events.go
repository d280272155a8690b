package session

import (
	"encoding/json"

	"github.com/fbarrella/reson8/permission"
)

// Inbound event names, spec.md §6.
const (
	EventUserJoinServer  = "USER_JOIN_SERVER"
	EventUserLeaveServer = "USER_LEAVE_SERVER"
	EventUserJoinChannel = "USER_JOIN_CHANNEL"
	EventUserLeaveChannel = "USER_LEAVE_CHANNEL"
	EventChannelMoved    = "CHANNEL_MOVED"
	EventCreateChannel   = "CREATE_CHANNEL"
	EventDeleteChannel   = "DELETE_CHANNEL"
	EventUpdateChannel   = "UPDATE_CHANNEL"
	EventSendMessage     = "SEND_MESSAGE"
	EventFetchMessages   = "FETCH_MESSAGES"
	EventGetAllUsers     = "GET_ALL_USERS"
	EventGetRoles        = "GET_ROLES"
	EventAssignRole      = "ASSIGN_ROLE"
	EventCreateRole      = "CREATE_ROLE"
	EventUpdateRole      = "UPDATE_ROLE"
	EventDeleteRole      = "DELETE_ROLE"
	EventFetchUserProfile = "FETCH_USER_PROFILE"

	EventGetRouterCapabilities  = "GET_ROUTER_CAPABILITIES"
	EventCreateWebRTCTransport  = "CREATE_WEBRTC_TRANSPORT"
	EventConnectTransport       = "CONNECT_TRANSPORT"
	EventProduce                = "PRODUCE"
	EventConsume                = "CONSUME"
	EventResumeConsumer         = "RESUME_CONSUMER"
	EventCloseProducer          = "CLOSE_PRODUCER"
)

// Outbound event names, spec.md §6.
const (
	OutUserJoined          = "USER_JOINED"
	OutUserLeft            = "USER_LEFT"
	OutChannelTreeUpdate   = "CHANNEL_TREE_UPDATE"
	OutPresenceUpdate      = "PRESENCE_UPDATE"
	OutMessageReceived     = "MESSAGE_RECEIVED"
	OutChannelCreated      = "CHANNEL_CREATED"
	OutChannelDeleted      = "CHANNEL_DELETED"
	OutError               = "ERROR"
	OutNewProducer         = "NEW_PRODUCER"
	OutProducerClosed      = "PRODUCER_CLOSED"
	OutExistingProducers   = "EXISTING_PRODUCERS"
)

// Envelope is the inbound frame shape: {event, data, ackId?} (SPEC_FULL.md §4.1).
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	AckID string          `json:"ackId,omitempty"`
}

// AckEnvelope is the reply frame for events carrying an ackId.
type AckEnvelope struct {
	AckID  string `json:"ackId"`
	Result Result `json:"result"`
}

// Result is the acknowledgement body of spec.md §6: "a result object of
// at least {success: bool, error?: string, ...}".
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OutEnvelope is the frame shape for broker broadcasts and direct pushes
// that carry no ackId — {event, data}.
type OutEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// requiredPermission maps each inbound event to the permission flag
// spec.md §4.1's table requires, with 0 meaning "none required".
var requiredPermission = map[string]permission.Flag{
	EventUserJoinServer:  0,
	EventUserLeaveServer: 0,
	EventUserJoinChannel: 0,
	EventUserLeaveChannel: 0,
	EventChannelMoved:    permission.ManageChannels,
	EventCreateChannel:   permission.CreateChannel,
	EventDeleteChannel:   permission.ManageChannels,
	EventUpdateChannel:   permission.ManageChannels,
	EventSendMessage:     permission.SendMessages,
	EventFetchMessages:   0,
	EventGetAllUsers:     permission.ManageRoles,
	EventGetRoles:        permission.ManageRoles,
	EventAssignRole:      permission.ManageRoles,
	EventCreateRole:      permission.ManageRoles,
	EventUpdateRole:      permission.ManageRoles,
	EventDeleteRole:      permission.ManageRoles,
	EventFetchUserProfile: 0,

	EventGetRouterCapabilities: permission.Connect,
	EventCreateWebRTCTransport: permission.Connect,
	EventConnectTransport:      permission.Connect,
	EventProduce:               permission.Speak,
	EventConsume:               permission.Connect,
	EventResumeConsumer:        permission.Connect,
	EventCloseProducer:         permission.Speak,
}

// requiresJoin lists events whose precondition is "joined" (Session.UserID
// set), i.e. every event except JOIN_SERVER itself.
func requiresJoin(event string) bool {
	return event != EventUserJoinServer
}
