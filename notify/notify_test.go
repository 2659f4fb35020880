package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatd/events"
	"chatd/models"
	"chatd/protocol"
	"chatd/state"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames []protocol.Frame
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(f protocol.Frame) error {
	if c.fail {
		return fmt.Errorf("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeClient) received() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.frames...)
}

type fixture struct {
	store   *state.Store
	out     *events.Outbound
	clients map[int64]*fakeClient
}

// newFixture connects the given users; ids listed in broken fail every write.
func newFixture(t *testing.T, connected []int64, broken ...int64) *fixture {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	f := &fixture{
		store:   state.New(),
		out:     events.NewOutbound(100, 10*time.Millisecond),
		clients: make(map[int64]*fakeClient),
	}
	for _, id := range connected {
		c := &fakeClient{id: fmt.Sprintf("s%d", id)}
		for _, b := range broken {
			if b == id {
				c.fail = true
			}
		}
		f.clients[id] = c
		f.store.RegisterClient(models.User{ID: id, Name: fmt.Sprintf("u%d", id)}, c)
	}
	// subscribe after the setup connections so they produce no frames
	f.store.Subscribe(New(log, f.store, f.out))
	return f
}

func (f *fixture) codes(id int64) []protocol.EventType {
	var out []protocol.EventType
	for _, fr := range f.clients[id].received() {
		out = append(out, fr.Event())
	}
	return out
}

func (f *fixture) drain() []events.Event {
	var out []events.Event
	for {
		evt, ok := f.out.Receive(5 * time.Millisecond)
		if !ok {
			return out
		}
		out = append(out, evt)
	}
}

func TestGroupMessageReachesOnlyConnectedMembers(t *testing.T) {
	req := require.New(t)

	// Given group {1,2,3} where only 1 and 3 are connected, plus outsider 4
	f := newFixture(t, []int64{1, 3, 4})
	f.store.LoadGroup(models.Group{ID: 9, Members: []int64{1, 2, 3}})

	// When a message is recorded for the group
	msg := models.Message{ID: 1, AuthorID: 1, DestinationKind: models.DestinationGroup, DestinationID: 9, Content: "hi"}
	f.store.RecordMessage(msg, []int64{1, 2, 3})

	// Then exactly 1 and 3 are notified
	req.Equal([]protocol.EventType{protocol.EventMessageSent}, f.codes(1))
	req.Equal([]protocol.EventType{protocol.EventMessageSent}, f.codes(3))
	req.Empty(f.codes(4))

	frame := f.clients[3].received()[0]
	req.Equal(int64(3), frame.UserID)
	req.True(frame.Success)
	var got models.Message
	req.NoError(json.Unmarshal([]byte(frame.Body), &got))
	req.Equal("hi", got.Content)
}

func TestConnectAndDisconnectGoToEveryoneElse(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, []int64{1, 2})

	c := &fakeClient{id: "s5"}
	f.clients[5] = c
	f.store.RegisterClient(models.User{ID: 5}, c)
	f.store.DeregisterClient(5, c)

	for _, id := range []int64{1, 2} {
		req.Equal([]protocol.EventType{protocol.EventUserConnected, protocol.EventUserDisconnected}, f.codes(id))
	}
	req.Empty(f.codes(5))
}

func TestInvitationRouting(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, []int64{1, 2, 3})
	gid := int64(4)
	f.store.LoadGroup(models.Group{ID: gid, Members: []int64{1, 3, 8}})

	friend := models.Invitation{ID: 1, InviterID: 1, InvitedID: 2}
	f.store.AddInvitation(friend)
	req.Equal([]protocol.EventType{protocol.EventInvitationSent}, f.codes(2))

	f.store.RemoveInvitation(friend, state.Accepted)
	req.Equal([]protocol.EventType{protocol.EventFriendshipAccepted}, f.codes(1))

	rejected := models.Invitation{ID: 2, InviterID: 3, InvitedID: 2}
	f.store.RemoveInvitation(rejected, state.Rejected)
	req.Equal([]protocol.EventType{protocol.EventFriendshipRejected}, f.codes(3))

	// a group acceptance reaches the whole roster, joiner included
	group := models.Invitation{ID: 3, InviterID: 1, InvitedID: 2, GroupID: &gid}
	f.store.AddGroupMember(gid, 2)
	f.store.RemoveInvitation(group, state.Accepted)
	req.Contains(f.codes(1), protocol.EventUserJoinedGroup)
	req.Contains(f.codes(2), protocol.EventUserJoinedGroup)
	req.Contains(f.codes(3), protocol.EventUserJoinedGroup)
}

func TestGroupAcceptanceWithMissingRosterHasNoReceivers(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, []int64{1, 2})
	gid := int64(77)

	f.store.RemoveInvitation(models.Invitation{ID: 1, InviterID: 1, InvitedID: 2, GroupID: &gid}, state.Accepted)

	req.Empty(f.codes(1))
	req.Empty(f.codes(2))
}

func TestGroupDeletionAndLeave(t *testing.T) {
	req := require.New(t)

	// Given group {A=1,B=2,C=3} created by C
	f := newFixture(t, []int64{1, 2, 3})
	f.store.AddGroup(models.Group{ID: 1, Members: []int64{3, 1, 2}}, 3)
	req.Equal([]protocol.EventType{protocol.EventUserJoinedGroup}, f.codes(1))
	req.Empty(f.codes(3))

	// When C leaves and the group is removed
	f.store.RemoveGroupMember(1, 3)
	f.store.RemoveGroup(1)

	// Then A and B hear both, C hears neither
	for _, id := range []int64{1, 2} {
		req.Equal([]protocol.EventType{
			protocol.EventUserJoinedGroup,
			protocol.EventUserLeftGroup,
			protocol.EventGroupDeleted,
		}, f.codes(id))
	}
	req.Empty(f.codes(3))
}

func TestPushFailureDoesNotStopDelivery(t *testing.T) {
	req := require.New(t)

	// Given receiver 2 whose socket is broken
	f := newFixture(t, []int64{1, 2, 3}, 2)
	f.store.LoadGroup(models.Group{ID: 1, Members: []int64{1, 2, 3}})

	// When a group message fans out
	f.store.RecordMessage(models.Message{ID: 1, DestinationKind: models.DestinationGroup, DestinationID: 1}, []int64{1, 2, 3})

	// Then the others still got it and the failure was reported
	req.Len(f.clients[1].received(), 1)
	req.Len(f.clients[3].received(), 1)

	var faults, delivered int
	for _, evt := range f.drain() {
		switch evt.(type) {
		case events.ServerFault:
			faults++
		case events.MessageDelivered:
			delivered++
		}
	}
	req.Equal(1, faults)
	req.Equal(1, delivered)
}

func TestRouteIgnoresActionEvents(t *testing.T) {
	n := New(logs.GetLoggerFromLevel(slog.LevelDebug), state.New(), nil)
	_, _, _, ok := n.Route(events.ActionCompleted{Meta: events.NewMeta()})
	require.False(t, ok)
}
