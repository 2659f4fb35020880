package events

import (
	"time"

	"chatd/models"
	"chatd/protocol"

	"github.com/google/uuid"
)

// Event is a change of server state or the outcome of a client action.
// Consumers switch on the concrete type.
type Event interface {
	Name() string
	Metadata() Meta
}

type Meta struct {
	ID uuid.UUID
	At time.Time
}

func NewMeta() Meta {
	return Meta{ID: uuid.New(), At: time.Now()}
}

func (m Meta) Metadata() Meta { return m }

type UserConnected struct {
	Meta
	User models.User
	// Replaced is true when the user already had a live session.
	Replaced bool
}

type UserDisconnected struct {
	Meta
	User models.User
}

// MessageDelivered carries the recipients resolved when the message was recorded.
type MessageDelivered struct {
	Meta
	Message    models.Message
	Recipients []int64
}

type InvitationSent struct {
	Meta
	Invitation models.Invitation
}

type InvitationAccepted struct {
	Meta
	Invitation models.Invitation
}

type InvitationRejected struct {
	Meta
	Invitation models.Invitation
}

type GroupCreated struct {
	Meta
	Group     models.Group
	CreatorID int64
}

// GroupDeleted lists the members the group had when it was removed.
type GroupDeleted struct {
	Meta
	Group models.Group
}

// MemberLeft carries the group with its remaining members.
type MemberLeft struct {
	Meta
	Group  models.Group
	UserID int64
}

// ActionCompleted records the result sent back for one request.
type ActionCompleted struct {
	Meta
	Session string
	UserID  int64
	Action  protocol.ActionType
	Result  protocol.EventType
	Detail  string
}

// ProtocolFault records a frame that could not be decoded.
type ProtocolFault struct {
	Meta
	Session string
	Reason  string
}

// ServerFault records an internal failure, including failed pushes.
type ServerFault struct {
	Meta
	Source string
	Err    error
}

func (UserConnected) Name() string      { return "user_connected" }
func (UserDisconnected) Name() string   { return "user_disconnected" }
func (MessageDelivered) Name() string   { return "message_delivered" }
func (InvitationSent) Name() string     { return "invitation_sent" }
func (InvitationAccepted) Name() string { return "invitation_accepted" }
func (InvitationRejected) Name() string { return "invitation_rejected" }
func (GroupCreated) Name() string       { return "group_created" }
func (GroupDeleted) Name() string       { return "group_deleted" }
func (MemberLeft) Name() string         { return "member_left" }
func (ActionCompleted) Name() string    { return "action_completed" }
func (ProtocolFault) Name() string      { return "protocol_fault" }
func (ServerFault) Name() string        { return "server_fault" }
