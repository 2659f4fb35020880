package db

import (
	"path/filepath"
	"testing"
	"time"

	apperrors "chatd/errors"
	"chatd/models"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestUsers(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)

	ana, err := db.CreateUser("ana", "secret")
	req.NoError(err)
	req.NotZero(ana.ID)

	_, err = db.CreateUser("ana", "other")
	req.ErrorIs(err, apperrors.ErrUserExists)

	found, err := db.FindUserByName("ana")
	req.NoError(err)
	req.Equal(ana, found)

	_, err = db.FindUserByID(999)
	req.ErrorIs(err, apperrors.ErrNotFound)

	ok, err := db.AuthenticateUser("ana", "secret")
	req.NoError(err)
	req.True(ok)

	ok, err = db.AuthenticateUser("ana", "wrong")
	req.NoError(err)
	req.False(ok)

	ok, err = db.AuthenticateUser("nobody", "secret")
	req.NoError(err)
	req.False(ok)

	req.NoError(db.UpdateUserPassword(ana.ID, "changed"))
	ok, _ = db.AuthenticateUser("ana", "changed")
	req.True(ok)
	req.ErrorIs(db.UpdateUserPassword(999, "x"), apperrors.ErrNotFound)
}

func TestMessagesNewestFirst(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	a, _ := db.CreateUser("a", "p")
	b, _ := db.CreateUser("b", "p")
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		_, err := db.CreateMessage(models.Message{
			AuthorID:        a.ID,
			DestinationKind: models.DestinationUser,
			DestinationID:   b.ID,
			Content:         "m",
			SentAt:          base.Add(time.Duration(i) * time.Second),
		})
		req.NoError(err)
	}

	msgs, err := db.ListMessagesForUser(b.ID, 3)
	req.NoError(err)
	req.Len(msgs, 3)
	req.True(msgs[0].SentAt.After(msgs[1].SentAt))
	req.Equal(a.ID, msgs[0].AuthorID)

	none, err := db.ListMessagesForGroup(b.ID, 10)
	req.NoError(err)
	req.Empty(none)
}

func TestMessagesOrderBySubSecondTime(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	a, _ := db.CreateUser("a", "p")
	b, _ := db.CreateUser("b", "p")
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	// Given a newer message stored before an older one whose fraction is shorter
	for _, at := range []time.Duration{120 * time.Millisecond, 100 * time.Millisecond} {
		_, err := db.CreateMessage(models.Message{
			AuthorID:        a.ID,
			DestinationKind: models.DestinationUser,
			DestinationID:   b.ID,
			Content:         at.String(),
			SentAt:          base.Add(at),
		})
		req.NoError(err)
	}

	// When
	msgs, err := db.ListMessagesForUser(b.ID, 1)

	// Then the limit keeps the newest one
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("120ms", msgs[0].Content)
	req.True(msgs[0].SentAt.Equal(base.Add(120 * time.Millisecond)))
}

func TestGroupsAndMembers(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	a, _ := db.CreateUser("a", "p")
	b, _ := db.CreateUser("b", "p")
	c, _ := db.CreateUser("c", "p")

	g, err := db.CreateGroup("team", a.ID)
	req.NoError(err)
	for _, id := range []int64{a.ID, b.ID, c.ID, c.ID} {
		req.NoError(db.AddGroupMember(g.ID, id))
	}

	found, err := db.FindGroupByID(g.ID)
	req.NoError(err)
	req.Equal([]int64{a.ID, b.ID, c.ID}, found.Members)

	groups, err := db.ListGroupsForUser(b.ID)
	req.NoError(err)
	req.Len(groups, 1)

	req.NoError(db.RemoveGroupMember(g.ID, b.ID))
	req.ErrorIs(db.RemoveGroupMember(g.ID, b.ID), apperrors.ErrNotFound)

	req.NoError(db.DeleteGroup(g.ID))
	_, err = db.FindGroupByID(g.ID)
	req.ErrorIs(err, apperrors.ErrNotFound)
	members, err := db.ListGroupMembers(g.ID)
	req.NoError(err)
	req.Empty(members)
}

func TestInvitationsAndFriendships(t *testing.T) {
	req := require.New(t)
	db := setupTestDB(t)
	a, _ := db.CreateUser("a", "p")
	b, _ := db.CreateUser("b", "p")
	g, _ := db.CreateGroup("g", a.ID)

	friend, err := db.CreateInvitation(models.Invitation{InviterID: a.ID, InvitedID: b.ID})
	req.NoError(err)
	group, err := db.CreateInvitation(models.Invitation{InviterID: a.ID, InvitedID: b.ID, GroupID: &g.ID})
	req.NoError(err)

	found, err := db.FindInvitationByID(group.ID)
	req.NoError(err)
	req.NotNil(found.GroupID)
	req.Equal(g.ID, *found.GroupID)

	pending, err := db.ListInvitationsForUser(b.ID)
	req.NoError(err)
	req.Len(pending, 2)
	req.Nil(pending[0].GroupID)

	req.NoError(db.DeleteInvitation(friend.ID))
	req.ErrorIs(db.DeleteInvitation(friend.ID), apperrors.ErrNotFound)
	_, err = db.FindInvitationByID(friend.ID)
	req.ErrorIs(err, apperrors.ErrNotFound)

	req.NoError(db.CreateFriendship(a.ID, b.ID))
	req.NoError(db.CreateFriendship(b.ID, a.ID))
	friends, err := db.ListFriends(b.ID)
	req.NoError(err)
	req.Equal([]models.User{a}, friends)
}
