package server

import "chatd/models"

//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Store is the persistence the dispatcher relies on. Lookups of missing
// rows return errors.ErrNotFound.
type Store interface {
	FindUserByName(name string) (models.User, error)
	FindUserByID(id int64) (models.User, error)
	CreateUser(name, password string) (models.User, error)
	AuthenticateUser(name, password string) (bool, error)
	UpdateUserPassword(id int64, password string) error

	CreateMessage(msg models.Message) (models.Message, error)
	ListMessagesForUser(userID int64, limit int) ([]models.Message, error)
	ListMessagesForGroup(groupID int64, limit int) ([]models.Message, error)

	CreateGroup(name string, creatorID int64) (models.Group, error)
	FindGroupByID(id int64) (models.Group, error)
	DeleteGroup(id int64) error
	ListGroupsForUser(userID int64) ([]models.Group, error)
	AddGroupMember(groupID, userID int64) error
	RemoveGroupMember(groupID, userID int64) error
	ListGroupMembers(groupID int64) ([]int64, error)

	CreateInvitation(inv models.Invitation) (models.Invitation, error)
	FindInvitationByID(id int64) (models.Invitation, error)
	ListInvitationsForUser(userID int64) ([]models.Invitation, error)
	DeleteInvitation(id int64) error

	CreateFriendship(userID, friendID int64) error
	ListFriends(userID int64) ([]models.User, error)
}
