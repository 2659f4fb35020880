package models

import "time"

type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

type Group struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Members []int64 `json:"memberIds"`
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID int64) bool {
	for _, id := range g.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// Invitation with a nil GroupID is a friendship request.
type Invitation struct {
	ID        int64  `json:"id"`
	InviterID int64  `json:"inviterId"`
	InvitedID int64  `json:"invitedUserId"`
	GroupID   *int64 `json:"groupId,omitempty"`
}

func (i Invitation) IsGroup() bool { return i.GroupID != nil }

type DestinationKind int

const (
	DestinationUser DestinationKind = iota
	DestinationGroup
)

func (k DestinationKind) String() string {
	if k == DestinationGroup {
		return "group"
	}
	return "user"
}

type Message struct {
	ID              int64           `json:"id"`
	AuthorID        int64           `json:"authorId"`
	DestinationKind DestinationKind `json:"destinationKind"`
	DestinationID   int64           `json:"destinationId"`
	Content         string          `json:"content"`
	SentAt          time.Time       `json:"sentAt"`
}
