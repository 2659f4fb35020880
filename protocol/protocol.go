package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Tag opens every header line.
const Tag = "CHAT"

// Unauthenticated is the user id carried by frames from a connection that has not logged in yet.
const Unauthenticated int64 = -1

type ActionType int

const (
	ActionRegisterUser ActionType = iota
	ActionLogin
	ActionLogout
	ActionRecoverPassword
	ActionFetchMessages
	ActionSendMessage
	ActionCreateGroup
	ActionSendInvitation
	ActionAcceptInvitation
	ActionRejectInvitation
	ActionLeaveGroup
	actionCount
)

var actionNames = [...]string{
	"REGISTER_USER",
	"LOGIN",
	"LOGOUT",
	"RECOVER_PASSWORD",
	"FETCH_MESSAGES",
	"SEND_MESSAGE",
	"CREATE_GROUP",
	"SEND_INVITATION",
	"ACCEPT_INVITATION",
	"REJECT_INVITATION",
	"LEAVE_GROUP",
}

func (a ActionType) String() string {
	if a < 0 || a >= actionCount {
		return "ACTION(" + strconv.Itoa(int(a)) + ")"
	}
	return actionNames[a]
}

// RequiresAuth reports whether the action may only be run by an authenticated session.
func (a ActionType) RequiresAuth() bool {
	return a != ActionRegisterUser && a != ActionLogin
}

type EventType int

const (
	EventResultOK EventType = iota
	EventErrorClient
	EventErrorServer
	EventErrorAuth
	EventUserConnected
	EventUserDisconnected
	EventMessageSent
	EventInvitationSent
	EventFriendshipAccepted
	EventFriendshipRejected
	EventUserJoinedGroup
	EventUserLeftGroup
	EventGroupDeleted
	eventCount
)

var eventNames = [...]string{
	"RESULT_OK",
	"ERROR_CLIENT",
	"ERROR_SERVER",
	"ERROR_AUTH",
	"USER_CONNECTED",
	"USER_DISCONNECTED",
	"MESSAGE_SENT",
	"INVITATION_SENT",
	"FRIENDSHIP_ACCEPTED",
	"FRIENDSHIP_REJECTED",
	"USER_JOINED_GROUP",
	"USER_LEFT_GROUP",
	"GROUP_DELETED",
}

func (e EventType) String() string {
	if e < 0 || e >= eventCount {
		return "EVENT(" + strconv.Itoa(int(e)) + ")"
	}
	return eventNames[e]
}

// IsError reports whether frames of this type carry success=false.
func (e EventType) IsError() bool {
	return e == EventErrorClient || e == EventErrorServer || e == EventErrorAuth
}

// Direction selects which enumeration a frame code belongs to.
type Direction int

const (
	// Request frames travel client to server and carry an ActionType code.
	Request Direction = iota
	// Response frames travel server to client and carry an EventType code.
	Response
)

func (d Direction) codeCount() int {
	if d == Request {
		return int(actionCount)
	}
	return int(eventCount)
}

// Frame is one header line plus one body line.
type Frame struct {
	Code    int
	Success bool
	UserID  int64
	Body    string
}

func NewRequest(action ActionType, userID int64, body string) Frame {
	return Frame{Code: int(action), Success: true, UserID: userID, Body: body}
}

func NewEvent(event EventType, userID int64, body string) Frame {
	return Frame{Code: int(event), Success: !event.IsError(), UserID: userID, Body: body}
}

func (f Frame) Action() ActionType { return ActionType(f.Code) }

func (f Frame) Event() EventType { return EventType(f.Code) }

// BodyLength is the length announced in the header, counted in code points.
func (f Frame) BodyLength() int {
	return utf8.RuneCountInString(f.Body)
}

// Header is a parsed header line.
type Header struct {
	Code       int
	Success    bool
	BodyLength int
	UserID     int64
}

// FormatError reports a malformed frame. It never closes the connection.
type FormatError struct {
	Line   string
	Reason string
	// Aligned is false when the header did not even carry the tag, so no body line was consumed.
	Aligned bool
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("protocol format error: %s: %q", e.Reason, e.Line)
}

func formatErr(line string, aligned bool, format string, args ...any) *FormatError {
	return &FormatError{Line: line, Reason: fmt.Sprintf(format, args...), Aligned: aligned}
}

// ParseHeader parses "CHAT <code> <success> <bodyLength> <userId>".
// The older four-field form without the success flag is accepted too.
func ParseHeader(line string, dir Direction) (Header, error) {
	fields := strings.Split(line, " ")
	if len(fields) == 0 || fields[0] != Tag {
		return Header{}, formatErr(line, false, "missing %s tag", Tag)
	}
	if len(fields) < 4 || len(fields) > 5 {
		return Header{}, formatErr(line, true, "expected 4 or 5 header fields, got %d", len(fields))
	}

	var h Header
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return Header{}, formatErr(line, true, "invalid code %q", fields[1])
	}
	if code < 0 || code >= dir.codeCount() {
		return Header{}, formatErr(line, true, "code %d out of range", code)
	}
	h.Code = code

	rest := fields[2:]
	h.Success = true
	if len(fields) == 5 {
		h.Success, err = strconv.ParseBool(rest[0])
		if err != nil {
			return Header{}, formatErr(line, true, "invalid success flag %q", rest[0])
		}
		rest = rest[1:]
	}

	h.BodyLength, err = strconv.Atoi(rest[0])
	if err != nil || h.BodyLength < 0 {
		return Header{}, formatErr(line, true, "invalid body length %q", rest[0])
	}
	h.UserID, err = strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		return Header{}, formatErr(line, true, "invalid user id %q", rest[1])
	}
	return h, nil
}

// FormatHeader renders the canonical five-field header, without the trailing newline.
func FormatHeader(f Frame) string {
	return Tag + " " + strconv.Itoa(f.Code) + " " + strconv.FormatBool(f.Success) + " " +
		strconv.Itoa(f.BodyLength()) + " " + strconv.FormatInt(f.UserID, 10)
}
