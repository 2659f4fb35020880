package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"chatd/events"
	"chatd/models"
	"chatd/protocol"
	"chatd/state"

	"github.com/samber/lo"
)

// Directory is the read side of the state store used to resolve receivers.
type Directory interface {
	Client(userID int64) (state.Client, bool)
	ConnectedUsers() []models.User
	Group(id int64) (models.Group, bool)
}

// Notifier pushes state changes to the connected users they concern.
// Every event it handles is forwarded to the outbound channel afterwards.
type Notifier struct {
	log *slog.Logger
	dir Directory
	out *events.Outbound
}

func New(log *slog.Logger, dir Directory, out *events.Outbound) *Notifier {
	return &Notifier{log: log, dir: dir, out: out}
}

// Route returns the notification code, the candidate receivers and the body
// for evt. ok is false for events that are never pushed to clients.
func (n *Notifier) Route(evt events.Event) (code protocol.EventType, receivers []int64, body any, ok bool) {
	switch e := evt.(type) {
	case events.UserConnected:
		return protocol.EventUserConnected, n.everyoneBut(e.User.ID), e.User, true
	case events.UserDisconnected:
		return protocol.EventUserDisconnected, n.everyoneBut(e.User.ID), e.User, true
	case events.MessageDelivered:
		return protocol.EventMessageSent, e.Recipients, e.Message, true
	case events.InvitationSent:
		return protocol.EventInvitationSent, []int64{e.Invitation.InvitedID}, e.Invitation, true
	case events.InvitationAccepted:
		if !e.Invitation.IsGroup() {
			return protocol.EventFriendshipAccepted, []int64{e.Invitation.InviterID}, e.Invitation, true
		}
		g, found := n.dir.Group(*e.Invitation.GroupID)
		if !found {
			// roster already gone: nobody to tell
			return protocol.EventUserJoinedGroup, nil, nil, true
		}
		return protocol.EventUserJoinedGroup, g.Members, models.MemberChange{Group: g, UserID: e.Invitation.InvitedID}, true
	case events.InvitationRejected:
		return protocol.EventFriendshipRejected, []int64{e.Invitation.InviterID}, e.Invitation, true
	case events.GroupCreated:
		return protocol.EventUserJoinedGroup, lo.Without(e.Group.Members, e.CreatorID), e.Group, true
	case events.GroupDeleted:
		return protocol.EventGroupDeleted, e.Group.Members, e.Group, true
	case events.MemberLeft:
		return protocol.EventUserLeftGroup, e.Group.Members, models.MemberChange{Group: e.Group, UserID: e.UserID}, true
	case events.ActionCompleted, events.ProtocolFault, events.ServerFault:
		return 0, nil, nil, false
	default:
		n.log.Warn("No route for event", "event", evt.Name())
		return 0, nil, nil, false
	}
}

// Notify implements state.Listener.
func (n *Notifier) Notify(evt events.Event) {
	if code, receivers, body, ok := n.Route(evt); ok && len(receivers) > 0 {
		n.push(evt, code, receivers, body)
	}
	if n.out != nil {
		n.out.Publish(evt)
	}
}

// push writes one frame per connected receiver. A failed write is reported
// and the remaining receivers are still served.
func (n *Notifier) push(evt events.Event, code protocol.EventType, receivers []int64, body any) int {
	payload, err := json.Marshal(body)
	if err != nil {
		n.fault(evt, fmt.Errorf("encode %s: %w", evt.Name(), err))
		return 0
	}

	delivered := 0
	for _, id := range lo.Uniq(receivers) {
		c, ok := n.dir.Client(id)
		if !ok {
			continue
		}
		if err := c.Send(protocol.NewEvent(code, id, string(payload))); err != nil {
			n.log.Warn("Failed to push notification", "event", evt.Name(), "user_id", id, "session", c.ID(), "error", err)
			n.fault(evt, fmt.Errorf("push %s to user %d: %w", code, id, err))
			continue
		}
		delivered++
	}
	n.log.Debug("Notification pushed", "event", evt.Name(), "code", code.String(), "delivered", delivered)
	return delivered
}

func (n *Notifier) fault(evt events.Event, err error) {
	if n.out == nil {
		return
	}
	n.out.Publish(events.ServerFault{Meta: events.NewMeta(), Source: "notify:" + evt.Name(), Err: err})
}

func (n *Notifier) everyoneBut(userID int64) []int64 {
	users := lo.Filter(n.dir.ConnectedUsers(), func(u models.User, _ int) bool { return u.ID != userID })
	return lo.Map(users, func(u models.User, _ int) int64 { return u.ID })
}
