package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"chatd/events"
	"chatd/models"
	"chatd/protocol"

	"github.com/google/uuid"
)

// Session wraps one client connection. Writes may come from the owning
// handler and from the notifier, so they are serialized.
type Session struct {
	id           string
	conn         net.Conn
	remote       string
	writeTimeout time.Duration

	wmu sync.Mutex

	mu       sync.Mutex
	idle     bool
	draining bool
}

func newSession(conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		id:           uuid.NewString(),
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		writeTimeout: writeTimeout,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) RemoteAddr() string { return s.remote }

// Send writes one frame to the client.
func (s *Session) Send(f protocol.Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := protocol.Encode(s.conn, f); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (s *Session) Close() error {
	return s.conn.Close()
}

// beginWait arms the idle deadline and marks the session idle before
// blocking on a header. It returns false once the session was asked to
// drain. Both happen under mu so a concurrent drain always wins.
func (s *Session) beginWait(idleTimeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	if idleTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
	s.idle = true
	return true
}

func (s *Session) endWait() {
	s.mu.Lock()
	s.idle = false
	s.mu.Unlock()
}

func (s *Session) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// drain asks the handler to stop after its current request. An idle handler
// is woken up right away.
func (s *Session) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	if s.idle {
		s.conn.SetReadDeadline(time.Now())
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	sess := newSession(conn, s.config.WriteTimeout)
	caller := NewCaller(sess)
	log := s.log.With("session", sess.ID(), "remote", sess.RemoteAddr())

	s.track(sess)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Connection handler panic", "panic", r)
			s.publish(events.ServerFault{Meta: events.NewMeta(), Source: "session:" + sess.ID(), Err: fmt.Errorf("panic: %v", r)})
		}
		if caller.Authenticated() {
			s.state.DeregisterClient(caller.UserID, sess)
		}
		conn.Close()
		s.untrack(sess)
		log.Info("Client disconnected", "user_id", caller.UserID)
	}()

	log.Info("New client connected")

	reader := protocol.NewReader(conn, protocol.Request)
	reader.Strict = s.config.StrictBodyLength

	for {
		if !sess.beginWait(s.config.IdleTimeout) {
			return
		}
		header, err := reader.ReadHeader()
		sess.endWait()

		var frame protocol.Frame
		if err == nil {
			frame, err = reader.ReadBody(header)
		}
		if err != nil {
			var fe *protocol.FormatError
			if errors.As(err, &fe) {
				log.Debug("Malformed frame", "error", fe.Reason)
				s.publish(events.ProtocolFault{Meta: events.NewMeta(), Session: sess.ID(), Reason: fe.Reason})
				if err := sess.Send(Result{Event: protocol.EventErrorClient, Body: models.ErrorResponse{Error: fe.Error()}}.Frame(caller.UserID)); err != nil {
					log.Warn("Error writing to connection", "error", err)
					return
				}
				continue
			}
			s.logReadError(log, sess, err)
			return
		}

		// bodies may carry passwords, keep them out of the logs
		log.Debug("Received frame", "action", frame.Action().String(), "user_id", frame.UserID, "length", header.BodyLength)

		result := s.controller.Execute(caller, frame)
		s.publish(events.ActionCompleted{
			Meta:    events.NewMeta(),
			Session: sess.ID(),
			UserID:  caller.UserID,
			Action:  frame.Action(),
			Result:  result.Event,
			Detail:  detail(result),
		})
		if err := sess.Send(result.Frame(caller.UserID)); err != nil {
			log.Warn("Error writing to connection", "error", err)
			return
		}
	}
}

func (s *Server) logReadError(log *slog.Logger, sess *Session, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
	case errors.Is(err, net.ErrClosed):
		log.Info("Connection closed")
	case sess.isDraining():
		log.Info("Connection drained")
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Info("Idle timeout", "timeout", s.config.IdleTimeout)
	default:
		log.Warn("Error reading from connection", "error", &ConnectionError{Op: "read", Err: err})
	}
}

func detail(r Result) string {
	if e, ok := r.Body.(models.ErrorResponse); ok {
		return e.Error
	}
	return ""
}
