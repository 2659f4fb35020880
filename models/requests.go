package models

// Request bodies decoded by the dispatcher. Validation tags are checked with
// go-playground/validator before any store access.

type CredentialsRequest struct {
	Name     string `json:"name" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type RecoverPasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,max=128"`
}

type SendMessageRequest struct {
	Content         string          `json:"content" validate:"required,max=4096"`
	DestinationKind DestinationKind `json:"destinationKind" validate:"oneof=0 1"`
	DestinationID   int64           `json:"destinationId" validate:"gt=0"`
}

type CreateGroupRequest struct {
	Name      string  `json:"name" validate:"required,max=64"`
	MemberIDs []int64 `json:"memberIds" validate:"required,dive,gt=0"`
}

type SendInvitationRequest struct {
	InvitedUserID int64  `json:"invitedUserId" validate:"gt=0"`
	GroupID       *int64 `json:"groupId,omitempty" validate:"omitempty,gt=0"`
}

type InvitationRequest struct {
	InvitationID int64 `json:"invitationId" validate:"gt=0"`
}

type LeaveGroupRequest struct {
	GroupID int64 `json:"groupId" validate:"gt=0"`
}

// Response bodies.

type ErrorResponse struct {
	Error string `json:"error"`
}

// Contacts is returned on login and registration.
type Contacts struct {
	User               User         `json:"user"`
	Friends            []User       `json:"friends"`
	ConnectedUsers     []User       `json:"connectedUsers"`
	Groups             []Group      `json:"groups"`
	PendingInvitations []Invitation `json:"pendingInvitations"`
}

type MessageList struct {
	Messages []Message `json:"messages"`
}

type LeaveGroupResponse struct {
	GroupID int64 `json:"groupId"`
	Deleted bool  `json:"deleted"`
}

// MemberChange is pushed when someone joins or leaves a group.
type MemberChange struct {
	Group  Group `json:"group"`
	UserID int64 `json:"userId"`
}
