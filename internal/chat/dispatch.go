package chat

import (
	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/types"
)

// Scope selects the recipients of a Dispatch.
type Scope int

const (
	// ToConn delivers Event to the connection ConnId.
	ToConn Scope = iota
	// ToRoom broadcasts Event to every connection joined to ConversationId
	// except ExcludeConn.
	ToRoom
	// ToUsers delivers Event to every connection of UserIds.
	ToUsers
	// JoinConn subscribes ConnId to ConversationId.
	JoinConn
	// LeaveConn unsubscribes ConnId from ConversationId.
	LeaveConn
	// JoinUsers subscribes every connection of UserIds to ConversationId and
	// records them as participants for presence.
	JoinUsers
	// LeaveUsers unsubscribes every connection of UserIds from ConversationId
	// and ends their participation.
	LeaveUsers
	// OnlineUsers answers ConnId with the online subset of UserIds.
	OnlineUsers
	// NotifyParticipants alerts UserIds about Message: online users without a
	// connection in the room get a notification event, offline users are
	// handed to the push hook.
	NotifyParticipants
)

func (s Scope) String() string {
	switch s {
	case ToConn:
		return "conn"
	case ToRoom:
		return "room"
	case ToUsers:
		return "users"
	case JoinConn:
		return "join_conn"
	case LeaveConn:
		return "leave_conn"
	case JoinUsers:
		return "join_users"
	case LeaveUsers:
		return "leave_users"
	case OnlineUsers:
		return "online_users"
	case NotifyParticipants:
		return "notify_participants"
	default:
		return "unknown"
	}
}

// Dispatch is a side effect on connections that must follow a successful
// operation. Operations return dispatches instead of performing them; the
// chat server applies them in order.
type Dispatch struct {
	Scope          Scope
	ConversationId string
	ConnId         string
	ExcludeConn    string
	UserIds        []string
	Event          *events.ServerEvent
	Message        *types.Message
	// RequestId is the client request a ToConn or OnlineUsers dispatch
	// answers. The websocket client sets it; operations leave it zero.
	RequestId int
}

func toConn(connId string, ev *events.ServerEvent) Dispatch {
	return Dispatch{Scope: ToConn, ConnId: connId, Event: ev}
}

func toRoom(conversationId string, ev *events.ServerEvent, excludeConn string) Dispatch {
	return Dispatch{Scope: ToRoom, ConversationId: conversationId, Event: ev, ExcludeConn: excludeConn}
}

func toUsers(userIds []string, ev *events.ServerEvent) Dispatch {
	return Dispatch{Scope: ToUsers, UserIds: userIds, Event: ev}
}
