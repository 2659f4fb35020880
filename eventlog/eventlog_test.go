package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"chatd/events"
	"chatd/models"
	"chatd/protocol"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func connected(id int64) events.Event {
	return events.UserConnected{Meta: events.NewMeta(), User: models.User{ID: id, Name: fmt.Sprintf("u%d", id)}}
}

func TestRecent_KeepsLatest(t *testing.T) {
	req := require.New(t)
	l := New(logs.GetLoggerFromLevel(slog.LevelDebug), events.NewOutbound(1, time.Millisecond), 3)

	// Given more events than the history holds
	for id := int64(1); id <= 5; id++ {
		l.Record(connected(id))
	}

	// Then only the last three remain, oldest first
	recent := l.Recent(0)
	req.Len(recent, 3)
	req.Contains(recent[0], "user=3")
	req.Contains(recent[2], "user=5")
	req.Len(l.Recent(1), 1)
	req.Contains(l.Recent(1)[0], "user=5")
	req.Equal(uint64(5), l.Total())
}

func TestRun_ConsumesOutbound(t *testing.T) {
	req := require.New(t)
	out := events.NewOutbound(10, time.Millisecond)
	l := New(logs.GetLoggerFromLevel(slog.LevelDebug), out, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// When
	req.True(out.Publish(connected(1)))
	req.True(out.Publish(events.ServerFault{Meta: events.NewMeta(), Source: "test", Err: errors.New("boom")}))

	// Then
	req.Eventually(func() bool { return l.Total() == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	req.Contains(l.Recent(0)[1], `error="boom"`)
}

func TestFormat(t *testing.T) {
	req := require.New(t)

	line := Format(events.ActionCompleted{
		Meta:    events.NewMeta(),
		Session: "s1",
		UserID:  4,
		Action:  protocol.ActionSendMessage,
		Result:  protocol.EventErrorClient,
		Detail:  "not found",
	})

	req.Contains(line, "action_completed")
	req.Contains(line, "action=SEND_MESSAGE")
	req.Contains(line, "result=ERROR_CLIENT")
	req.Contains(line, `detail="not found"`)
}
