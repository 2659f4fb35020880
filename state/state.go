package state

import (
	"sort"
	"sync"

	"chatd/events"
	"chatd/models"
	"chatd/protocol"

	"github.com/samber/lo"
)

// InboxLimit is the number of messages kept and returned per inbox.
const InboxLimit = 100

// Client is a live connection the registry can look up. The registry only
// reads it; closing belongs to the connection's handler.
type Client interface {
	ID() string
	Send(frame protocol.Frame) error
}

// Listener receives every event emitted by a mutator, after the mutator
// released its lock.
type Listener interface {
	Notify(evt events.Event)
}

type entry struct {
	user   models.User
	client Client
}

// Store holds the shared server state. Each collection has its own lock, so
// a change spanning two collections is not atomic.
type Store struct {
	lmu       sync.RWMutex
	listeners []Listener

	clientsMu sync.RWMutex
	clients   map[int64]entry

	invitesMu sync.RWMutex
	invites   map[int64][]models.Invitation

	groupsMu sync.RWMutex
	groups   map[int64]models.Group
	removed  map[int64]struct{}

	inboxMu sync.RWMutex
	inboxes map[int64][]models.Message
}

func New() *Store {
	return &Store{
		clients: make(map[int64]entry),
		invites: make(map[int64][]models.Invitation),
		groups:  make(map[int64]models.Group),
		removed: make(map[int64]struct{}),
		inboxes: make(map[int64][]models.Message),
	}
}

func (s *Store) Subscribe(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) emit(evt events.Event) {
	s.lmu.RLock()
	listeners := s.listeners
	s.lmu.RUnlock()
	for _, l := range listeners {
		l.Notify(evt)
	}
}

// Registry

// RegisterClient maps user.ID to c and returns the client it replaced, if any.
func (s *Store) RegisterClient(user models.User, c Client) Client {
	user.Connected = true

	s.clientsMu.Lock()
	prev, replaced := s.clients[user.ID]
	s.clients[user.ID] = entry{user: user, client: c}
	s.clientsMu.Unlock()

	s.emit(events.UserConnected{Meta: events.NewMeta(), User: user, Replaced: replaced})
	if replaced {
		return prev.client
	}
	return nil
}

// DeregisterClient removes the entry for userID only when it still belongs to c.
func (s *Store) DeregisterClient(userID int64, c Client) bool {
	s.clientsMu.Lock()
	e, ok := s.clients[userID]
	if !ok || e.client.ID() != c.ID() {
		s.clientsMu.Unlock()
		return false
	}
	delete(s.clients, userID)
	s.clientsMu.Unlock()

	e.user.Connected = false
	s.emit(events.UserDisconnected{Meta: events.NewMeta(), User: e.user})
	return true
}

func (s *Store) Client(userID int64) (Client, bool) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	e, ok := s.clients[userID]
	return e.client, ok
}

func (s *Store) IsConnected(userID int64) bool {
	_, ok := s.Client(userID)
	return ok
}

// ConnectedUsers returns the registered users ordered by id.
func (s *Store) ConnectedUsers() []models.User {
	s.clientsMu.RLock()
	users := lo.MapToSlice(s.clients, func(_ int64, e entry) models.User { return e.user })
	s.clientsMu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// Inboxes

// RecordMessage prepends msg to the inbox of every recipient.
func (s *Store) RecordMessage(msg models.Message, recipients []int64) {
	recipients = lo.Uniq(recipients)

	s.inboxMu.Lock()
	for _, id := range recipients {
		s.inboxes[id] = prepend(s.inboxes[id], msg)
	}
	s.inboxMu.Unlock()

	s.emit(events.MessageDelivered{Meta: events.NewMeta(), Message: msg, Recipients: recipients})
}

func prepend(inbox []models.Message, msg models.Message) []models.Message {
	out := make([]models.Message, 0, min(len(inbox)+1, InboxLimit))
	out = append(out, msg)
	for _, m := range inbox {
		if len(out) == InboxLimit {
			break
		}
		out = append(out, m)
	}
	return out
}

// Inbox returns up to limit messages, most recent first.
func (s *Store) Inbox(userID int64, limit int) []models.Message {
	if limit <= 0 || limit > InboxLimit {
		limit = InboxLimit
	}
	s.inboxMu.RLock()
	defer s.inboxMu.RUnlock()
	inbox := s.inboxes[userID]
	if len(inbox) > limit {
		inbox = inbox[:limit]
	}
	return append([]models.Message(nil), inbox...)
}

// LoadInbox replaces an inbox with messages read from persistence.
func (s *Store) LoadInbox(userID int64, msgs []models.Message) {
	msgs = lo.UniqBy(msgs, func(m models.Message) int64 { return m.ID })
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].SentAt.After(msgs[j].SentAt)
	})
	if len(msgs) > InboxLimit {
		msgs = msgs[:InboxLimit]
	}

	s.inboxMu.Lock()
	s.inboxes[userID] = msgs
	s.inboxMu.Unlock()
}

// Invitations

func (s *Store) AddInvitation(inv models.Invitation) {
	s.invitesMu.Lock()
	s.invites[inv.InvitedID] = append(s.invites[inv.InvitedID], inv)
	s.invitesMu.Unlock()

	s.emit(events.InvitationSent{Meta: events.NewMeta(), Invitation: inv})
}

type Outcome int

const (
	Accepted Outcome = iota
	Rejected
)

// RemoveInvitation drops inv from the invited user's pending list and emits
// the outcome. It reports whether the invitation was pending.
func (s *Store) RemoveInvitation(inv models.Invitation, outcome Outcome) bool {
	s.invitesMu.Lock()
	pending := s.invites[inv.InvitedID]
	_, idx, found := lo.FindIndexOf(pending, func(i models.Invitation) bool { return i.ID == inv.ID })
	if found {
		s.invites[inv.InvitedID] = append(pending[:idx:idx], pending[idx+1:]...)
		if len(s.invites[inv.InvitedID]) == 0 {
			delete(s.invites, inv.InvitedID)
		}
	}
	s.invitesMu.Unlock()

	if outcome == Accepted {
		s.emit(events.InvitationAccepted{Meta: events.NewMeta(), Invitation: inv})
	} else {
		s.emit(events.InvitationRejected{Meta: events.NewMeta(), Invitation: inv})
	}
	return found
}

func (s *Store) PendingInvitations(userID int64) []models.Invitation {
	s.invitesMu.RLock()
	defer s.invitesMu.RUnlock()
	return append([]models.Invitation(nil), s.invites[userID]...)
}

// LoadInvitations replaces the pending list of userID without emitting.
func (s *Store) LoadInvitations(userID int64, invs []models.Invitation) {
	s.invitesMu.Lock()
	defer s.invitesMu.Unlock()
	if len(invs) == 0 {
		delete(s.invites, userID)
		return
	}
	s.invites[userID] = append([]models.Invitation(nil), invs...)
}

// Groups

func (s *Store) AddGroup(g models.Group, creatorID int64) {
	g = cloneGroup(g)
	s.groupsMu.Lock()
	s.groups[g.ID] = g
	delete(s.removed, g.ID)
	s.groupsMu.Unlock()

	s.emit(events.GroupCreated{Meta: events.NewMeta(), Group: cloneGroup(g), CreatorID: creatorID})
}

// LoadGroup caches a group read from persistence without emitting and
// returns the cached roster. Once cached, a group is only changed by the
// mutators, so an older snapshot never replaces it. A group removed since
// the snapshot was read is not brought back and false is returned.
func (s *Store) LoadGroup(g models.Group) (models.Group, bool) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	if _, gone := s.removed[g.ID]; gone {
		return models.Group{}, false
	}
	cached, ok := s.groups[g.ID]
	if !ok {
		cached = cloneGroup(g)
		s.groups[g.ID] = cached
	}
	return cloneGroup(cached), true
}

func (s *Store) Group(id int64) (models.Group, bool) {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()
	g, ok := s.groups[id]
	return cloneGroup(g), ok
}

// GroupsOf returns the cached groups userID belongs to.
func (s *Store) GroupsOf(userID int64) []models.Group {
	s.groupsMu.RLock()
	groups := lo.Filter(lo.Values(s.groups), func(g models.Group, _ int) bool { return g.HasMember(userID) })
	s.groupsMu.RUnlock()

	groups = lo.Map(groups, func(g models.Group, _ int) models.Group { return cloneGroup(g) })
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// AddGroupMember extends a roster without emitting; joins are announced by
// the invitation that caused them.
func (s *Store) AddGroupMember(groupID, userID int64) bool {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	g, ok := s.groups[groupID]
	if !ok || g.HasMember(userID) {
		return false
	}
	g.Members = append(g.Members, userID)
	s.groups[groupID] = g
	return true
}

// RemoveGroupMember returns the group with its remaining members.
func (s *Store) RemoveGroupMember(groupID, userID int64) (models.Group, bool) {
	s.groupsMu.Lock()
	g, ok := s.groups[groupID]
	if !ok || !g.HasMember(userID) {
		s.groupsMu.Unlock()
		return models.Group{}, false
	}
	g.Members = lo.Without(g.Members, userID)
	s.groups[groupID] = g
	g = cloneGroup(g)
	s.groupsMu.Unlock()

	s.emit(events.MemberLeft{Meta: events.NewMeta(), Group: g, UserID: userID})
	return g, true
}

// RemoveGroup returns the group as it was before removal.
func (s *Store) RemoveGroup(groupID int64) (models.Group, bool) {
	s.groupsMu.Lock()
	g, ok := s.groups[groupID]
	if ok {
		delete(s.groups, groupID)
		s.removed[groupID] = struct{}{}
	}
	s.groupsMu.Unlock()
	if !ok {
		return models.Group{}, false
	}

	s.emit(events.GroupDeleted{Meta: events.NewMeta(), Group: g})
	return g, true
}

func cloneGroup(g models.Group) models.Group {
	g.Members = append([]int64(nil), g.Members...)
	return g
}

type Stats struct {
	Connections int
	Users       []string
	Groups      int
	Invitations int
}

func (s *Store) Stats() Stats {
	var st Stats
	for _, u := range s.ConnectedUsers() {
		st.Users = append(st.Users, u.Name)
	}
	st.Connections = len(st.Users)

	s.groupsMu.RLock()
	st.Groups = len(s.groups)
	s.groupsMu.RUnlock()

	s.invitesMu.RLock()
	for _, pending := range s.invites {
		st.Invitations += len(pending)
	}
	s.invitesMu.RUnlock()
	return st
}
