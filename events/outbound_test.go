package events

import (
	"testing"
	"time"

	"chatd/models"

	"github.com/stretchr/testify/require"
)

func TestOutboundDropsWhenFull(t *testing.T) {
	req := require.New(t)

	// Given a channel with room for a single event
	out := NewOutbound(1, 20*time.Millisecond)
	req.True(out.Publish(UserConnected{Meta: NewMeta(), User: models.User{ID: 1}}))

	// When nobody consumes
	start := time.Now()
	ok := out.Publish(UserConnected{Meta: NewMeta(), User: models.User{ID: 2}})

	// Then the second event is dropped after the bounded wait
	req.False(ok)
	req.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
	req.Equal(uint64(1), out.Dropped())
	req.Equal(1, out.Len())
}

func TestOutboundPreservesOrder(t *testing.T) {
	req := require.New(t)
	out := NewOutbound(4, time.Second)

	for i := int64(1); i <= 3; i++ {
		req.True(out.Publish(UserDisconnected{Meta: NewMeta(), User: models.User{ID: i}}))
	}
	for i := int64(1); i <= 3; i++ {
		evt, ok := out.Receive(time.Second)
		req.True(ok)
		req.Equal(i, evt.(UserDisconnected).User.ID)
	}

	_, ok := out.Receive(10 * time.Millisecond)
	req.False(ok)
}

func TestOutboundUnblocksWhenConsumerCatchesUp(t *testing.T) {
	req := require.New(t)
	out := NewOutbound(1, time.Second)
	req.True(out.Publish(GroupCreated{Meta: NewMeta()}))

	go func() {
		time.Sleep(10 * time.Millisecond)
		out.Receive(time.Second)
	}()

	req.True(out.Publish(GroupDeleted{Meta: NewMeta()}))
	req.Zero(out.Dropped())
}
