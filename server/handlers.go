package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	apperrors "chatd/errors"
	"chatd/models"
	"chatd/protocol"
	"chatd/state"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// minGroupSize is the smallest roster a group may keep.
const minGroupSize = 3

type empty struct{}

func (c *Controller) handleRegister(caller *Caller, body string) (any, error) {
	var req models.CredentialsRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	_, err := c.store.FindUserByName(req.Name)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", req.Name, apperrors.ErrUserExists)
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	user, err := c.store.CreateUser(req.Name, req.Password)
	if err != nil {
		return nil, err
	}
	c.log.Info("User registered", "user_id", user.ID, "name", user.Name)
	return c.authenticate(caller, user)
}

func (c *Controller) handleLogin(caller *Caller, body string) (any, error) {
	var req models.CredentialsRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	user, err := c.store.FindUserByName(req.Name)
	if err != nil {
		return nil, err
	}
	valid, err := c.store.AuthenticateUser(req.Name, req.Password)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, apperrors.ErrInvalidCredentials
	}
	return c.authenticate(caller, user)
}

// authenticate binds the caller to user, registers the connection and
// returns the contacts snapshot.
func (c *Controller) authenticate(caller *Caller, user models.User) (models.Contacts, error) {
	contacts, err := c.hydrate(user)
	if err != nil {
		return models.Contacts{}, err
	}

	if caller.Authenticated() && caller.UserID != user.ID {
		c.state.DeregisterClient(caller.UserID, caller.Client)
	}
	if prev := c.state.RegisterClient(user, caller.Client); prev != nil && prev.ID() != caller.Client.ID() {
		c.log.Info("Closing stale session", "user_id", user.ID, "session", prev.ID())
		if closer, ok := prev.(io.Closer); ok {
			closer.Close()
		}
	}
	caller.UserID = user.ID
	c.log.Info("User logged in", "user_id", user.ID, "session", caller.Client.ID())

	contacts.User = models.User{ID: user.ID, Name: user.Name, Connected: true}
	contacts.ConnectedUsers = lo.Filter(c.state.ConnectedUsers(), func(u models.User, _ int) bool { return u.ID != user.ID })
	contacts.PendingInvitations = nonNil(c.state.PendingInvitations(user.ID))
	for i := range contacts.Friends {
		contacts.Friends[i].Connected = c.state.IsConnected(contacts.Friends[i].ID)
	}
	return contacts, nil
}

// hydrate loads what the state store needs about user from persistence.
func (c *Controller) hydrate(user models.User) (models.Contacts, error) {
	var (
		contacts    models.Contacts
		invitations []models.Invitation
		direct      []models.Message
	)

	var g errgroup.Group
	g.Go(func() (err error) {
		contacts.Friends, err = c.store.ListFriends(user.ID)
		return err
	})
	g.Go(func() (err error) {
		contacts.Groups, err = c.store.ListGroupsForUser(user.ID)
		return err
	})
	g.Go(func() (err error) {
		invitations, err = c.store.ListInvitationsForUser(user.ID)
		return err
	})
	g.Go(func() (err error) {
		direct, err = c.store.ListMessagesForUser(user.ID, state.InboxLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Contacts{}, fmt.Errorf("load user %d: %w", user.ID, err)
	}

	var (
		mu    sync.Mutex
		inbox = direct
	)
	var perGroup errgroup.Group
	perGroup.SetLimit(4)
	for _, group := range contacts.Groups {
		perGroup.Go(func() error {
			msgs, err := c.store.ListMessagesForGroup(group.ID, state.InboxLimit)
			if err != nil {
				return err
			}
			mu.Lock()
			inbox = append(inbox, msgs...)
			mu.Unlock()
			return nil
		})
	}
	if err := perGroup.Wait(); err != nil {
		return models.Contacts{}, fmt.Errorf("load inbox of user %d: %w", user.ID, err)
	}

	// the cached roster is newer than the snapshot read above
	contacts.Groups = lo.FilterMap(contacts.Groups, func(g models.Group, _ int) (models.Group, bool) {
		cached, ok := c.state.LoadGroup(g)
		return cached, ok && cached.HasMember(user.ID)
	})
	c.state.LoadInvitations(user.ID, invitations)
	c.state.LoadInbox(user.ID, inbox)

	contacts.Friends = nonNil(contacts.Friends)
	contacts.Groups = nonNil(contacts.Groups)
	return contacts, nil
}

func (c *Controller) handleLogout(caller *Caller) (any, error) {
	c.state.DeregisterClient(caller.UserID, caller.Client)
	c.log.Info("User logged out", "user_id", caller.UserID)
	caller.UserID = protocol.Unauthenticated
	return empty{}, nil
}

func (c *Controller) handleRecoverPassword(caller *Caller, body string) (any, error) {
	var req models.RecoverPasswordRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if err := c.store.UpdateUserPassword(caller.UserID, req.NewPassword); err != nil {
		return nil, err
	}
	return empty{}, nil
}

func (c *Controller) handleFetchMessages(caller *Caller) (any, error) {
	return models.MessageList{Messages: nonNil(c.state.Inbox(caller.UserID, state.InboxLimit))}, nil
}

func (c *Controller) handleSendMessage(caller *Caller, body string) (any, error) {
	var req models.SendMessageRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	var recipients []int64
	switch req.DestinationKind {
	case models.DestinationUser:
		if _, err := c.store.FindUserByID(req.DestinationID); err != nil {
			return nil, err
		}
		recipients = []int64{req.DestinationID}
	case models.DestinationGroup:
		group, err := c.group(req.DestinationID)
		if err != nil {
			return nil, err
		}
		if !group.HasMember(caller.UserID) {
			return nil, fmt.Errorf("group %d: %w", group.ID, apperrors.ErrNotMember)
		}
		recipients = group.Members
	}

	msg, err := c.store.CreateMessage(models.Message{
		AuthorID:        caller.UserID,
		DestinationKind: req.DestinationKind,
		DestinationID:   req.DestinationID,
		Content:         req.Content,
		SentAt:          time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	c.state.RecordMessage(msg, recipients)
	return msg, nil
}

func (c *Controller) handleCreateGroup(caller *Caller, body string) (any, error) {
	var req models.CreateGroupRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	members := lo.Without(lo.Uniq(req.MemberIDs), caller.UserID)
	if len(members) < minGroupSize-1 {
		return nil, apperrors.ErrGroupTooSmall
	}
	for _, id := range members {
		if _, err := c.store.FindUserByID(id); err != nil {
			return nil, err
		}
	}

	group, err := c.store.CreateGroup(req.Name, caller.UserID)
	if err != nil {
		return nil, err
	}
	group.Members = append([]int64{caller.UserID}, members...)
	for _, id := range group.Members {
		if err := c.store.AddGroupMember(group.ID, id); err != nil {
			return nil, err
		}
	}

	c.state.AddGroup(group, caller.UserID)
	c.log.Info("Group created", "group_id", group.ID, "creator", caller.UserID, "members", len(group.Members))
	return group, nil
}

func (c *Controller) handleSendInvitation(caller *Caller, body string) (any, error) {
	var req models.SendInvitationRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.InvitedUserID == caller.UserID {
		return nil, apperrors.ErrSelfInvitation
	}
	if _, err := c.store.FindUserByID(req.InvitedUserID); err != nil {
		return nil, err
	}
	if req.GroupID != nil {
		group, err := c.group(*req.GroupID)
		if err != nil {
			return nil, err
		}
		if !group.HasMember(caller.UserID) {
			return nil, fmt.Errorf("group %d: %w", group.ID, apperrors.ErrNotMember)
		}
		if group.HasMember(req.InvitedUserID) {
			return nil, fmt.Errorf("user %d in group %d: %w", req.InvitedUserID, group.ID, apperrors.ErrAlreadyMember)
		}
	}

	inv, err := c.store.CreateInvitation(models.Invitation{
		InviterID: caller.UserID,
		InvitedID: req.InvitedUserID,
		GroupID:   req.GroupID,
	})
	if err != nil {
		return nil, err
	}
	c.state.AddInvitation(inv)
	return inv, nil
}

func (c *Controller) handleAcceptInvitation(caller *Caller, body string) (any, error) {
	inv, err := c.invitation(caller, body)
	if err != nil {
		return nil, err
	}

	if inv.IsGroup() {
		group, err := c.group(*inv.GroupID)
		if err != nil {
			return nil, err
		}
		if err := c.store.AddGroupMember(group.ID, caller.UserID); err != nil {
			return nil, err
		}
		c.state.AddGroupMember(group.ID, caller.UserID)
	} else if err := c.store.CreateFriendship(inv.InviterID, inv.InvitedID); err != nil {
		return nil, err
	}

	if err := c.store.DeleteInvitation(inv.ID); err != nil {
		return nil, err
	}
	c.state.RemoveInvitation(inv, state.Accepted)
	return inv, nil
}

func (c *Controller) handleRejectInvitation(caller *Caller, body string) (any, error) {
	inv, err := c.invitation(caller, body)
	if err != nil {
		return nil, err
	}
	if err := c.store.DeleteInvitation(inv.ID); err != nil {
		return nil, err
	}
	c.state.RemoveInvitation(inv, state.Rejected)
	return inv, nil
}

// invitation resolves the invitation named in body and checks it is
// addressed to the caller.
func (c *Controller) invitation(caller *Caller, body string) (models.Invitation, error) {
	var req models.InvitationRequest
	if err := decode(body, &req); err != nil {
		return models.Invitation{}, err
	}
	inv, err := c.store.FindInvitationByID(req.InvitationID)
	if err != nil {
		return models.Invitation{}, err
	}
	if inv.InvitedID != caller.UserID {
		return models.Invitation{}, &AuthorizationError{Msg: fmt.Sprintf("invitation %d is not addressed to user %d", inv.ID, caller.UserID)}
	}
	return inv, nil
}

func (c *Controller) handleLeaveGroup(caller *Caller, body string) (any, error) {
	var req models.LeaveGroupRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	group, err := c.group(req.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(caller.UserID) {
		return nil, fmt.Errorf("group %d: %w", group.ID, apperrors.ErrNotMember)
	}

	if err := c.store.RemoveGroupMember(group.ID, caller.UserID); err != nil {
		return nil, err
	}
	remaining, ok := c.state.RemoveGroupMember(group.ID, caller.UserID)
	if !ok {
		remaining = group
		remaining.Members = lo.Without(group.Members, caller.UserID)
	}

	resp := models.LeaveGroupResponse{GroupID: group.ID}
	if len(remaining.Members) < minGroupSize {
		if err := c.store.DeleteGroup(group.ID); err != nil {
			return nil, err
		}
		c.state.RemoveGroup(group.ID)
		resp.Deleted = true
		c.log.Info("Group deleted", "group_id", group.ID, "remaining", len(remaining.Members))
	}
	return resp, nil
}

// group returns the cached roster, loading it from persistence on a miss.
func (c *Controller) group(id int64) (models.Group, error) {
	if g, ok := c.state.Group(id); ok {
		return g, nil
	}
	g, err := c.store.FindGroupByID(id)
	if err != nil {
		return models.Group{}, err
	}
	cached, ok := c.state.LoadGroup(g)
	if !ok {
		return models.Group{}, fmt.Errorf("group %d: %w", id, apperrors.ErrNotFound)
	}
	return cached, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
