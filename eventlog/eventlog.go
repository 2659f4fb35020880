// Package eventlog consumes the outbound event channel. Every event is
// written to the structured log and the latest ones are kept for the
// control socket.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatd/events"
)

const pollInterval = 200 * time.Millisecond

type Source interface {
	Receive(timeout time.Duration) (events.Event, bool)
}

type Log struct {
	log  *slog.Logger
	src  Source
	size int

	mu     sync.Mutex
	recent []string
	total  uint64
}

func New(log *slog.Logger, src Source, size int) *Log {
	if size <= 0 {
		size = 1
	}
	return &Log{log: log, src: src, size: size}
}

// Run consumes events until ctx is done.
func (l *Log) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		evt, ok := l.src.Receive(pollInterval)
		if !ok {
			continue
		}
		l.Record(evt)
	}
}

func (l *Log) Record(evt events.Event) {
	line := Format(evt)

	switch evt.(type) {
	case events.ServerFault:
		l.log.Warn("Event", "event", evt.Name(), "detail", line)
	case events.ProtocolFault, events.ActionCompleted:
		l.log.Debug("Event", "event", evt.Name(), "detail", line)
	default:
		l.log.Info("Event", "event", evt.Name(), "detail", line)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if len(l.recent) == l.size {
		copy(l.recent, l.recent[1:])
		l.recent = l.recent[:l.size-1]
	}
	l.recent = append(l.recent, line)
}

// Recent returns up to n lines, oldest first. n <= 0 returns all of them.
func (l *Log) Recent(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines := l.recent
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return append([]string(nil), lines...)
}

func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Format renders evt on a single line.
func Format(evt events.Event) string {
	var b strings.Builder
	meta := evt.Metadata()
	b.WriteString(meta.At.UTC().Format(time.RFC3339Nano))
	b.WriteByte(' ')
	b.WriteString(evt.Name())

	switch e := evt.(type) {
	case events.UserConnected:
		fmt.Fprintf(&b, " user=%d name=%s replaced=%t", e.User.ID, e.User.Name, e.Replaced)
	case events.UserDisconnected:
		fmt.Fprintf(&b, " user=%d name=%s", e.User.ID, e.User.Name)
	case events.MessageDelivered:
		fmt.Fprintf(&b, " message=%d author=%d to=%s:%d recipients=%d",
			e.Message.ID, e.Message.AuthorID, e.Message.DestinationKind, e.Message.DestinationID, len(e.Recipients))
	case events.InvitationSent:
		fmt.Fprintf(&b, " invitation=%d from=%d to=%d", e.Invitation.ID, e.Invitation.InviterID, e.Invitation.InvitedID)
	case events.InvitationAccepted:
		fmt.Fprintf(&b, " invitation=%d by=%d", e.Invitation.ID, e.Invitation.InvitedID)
	case events.InvitationRejected:
		fmt.Fprintf(&b, " invitation=%d by=%d", e.Invitation.ID, e.Invitation.InvitedID)
	case events.GroupCreated:
		fmt.Fprintf(&b, " group=%d creator=%d members=%d", e.Group.ID, e.CreatorID, len(e.Group.Members))
	case events.GroupDeleted:
		fmt.Fprintf(&b, " group=%d", e.Group.ID)
	case events.MemberLeft:
		fmt.Fprintf(&b, " group=%d user=%d remaining=%d", e.Group.ID, e.UserID, len(e.Group.Members))
	case events.ActionCompleted:
		fmt.Fprintf(&b, " session=%s user=%d action=%s result=%s", e.Session, e.UserID, e.Action, e.Result)
		if e.Detail != "" {
			fmt.Fprintf(&b, " detail=%q", e.Detail)
		}
	case events.ProtocolFault:
		fmt.Fprintf(&b, " session=%s reason=%q", e.Session, e.Reason)
	case events.ServerFault:
		fmt.Fprintf(&b, " source=%s error=%q", e.Source, e.Err)
	}
	return b.String()
}
