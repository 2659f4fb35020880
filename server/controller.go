package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "chatd/errors"
	"chatd/events"
	"chatd/models"
	"chatd/protocol"
	"chatd/state"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Caller is the identity behind one connection. Only the connection's own
// handler goroutine reads or writes it.
type Caller struct {
	Client state.Client
	UserID int64
}

func NewCaller(c state.Client) *Caller {
	return &Caller{Client: c, UserID: protocol.Unauthenticated}
}

func (c *Caller) Authenticated() bool { return c.UserID != protocol.Unauthenticated }

// Result is the single response to a request.
type Result struct {
	Event protocol.EventType
	Body  any
}

// Frame renders the result for the caller.
func (r Result) Frame(userID int64) protocol.Frame {
	body, err := json.Marshal(r.Body)
	if err != nil {
		body, _ = json.Marshal(models.ErrorResponse{Error: "internal server error"})
		return protocol.NewEvent(protocol.EventErrorServer, userID, string(body))
	}
	return protocol.NewEvent(r.Event, userID, string(body))
}

// Controller executes client actions against persistence and the state store.
type Controller struct {
	log   *slog.Logger
	store Store
	state *state.Store
	out   *events.Outbound
}

func NewController(log *slog.Logger, store Store, st *state.Store, out *events.Outbound) *Controller {
	return &Controller{log: log, store: store, state: st, out: out}
}

// Execute runs one request. It never fails: errors become error results.
func (c *Controller) Execute(caller *Caller, req protocol.Frame) Result {
	action := req.Action()
	if action.RequiresAuth() && (!caller.Authenticated() || req.UserID != caller.UserID) {
		c.log.Warn("Unauthorized action", "action", action.String(), "user_id", req.UserID, "session_user", caller.UserID)
		return c.fail(action, &AuthorizationError{Msg: fmt.Sprintf("not authenticated as user %d", req.UserID)})
	}

	var (
		body any
		err  error
	)
	switch action {
	case protocol.ActionRegisterUser:
		body, err = c.handleRegister(caller, req.Body)
	case protocol.ActionLogin:
		body, err = c.handleLogin(caller, req.Body)
	case protocol.ActionLogout:
		body, err = c.handleLogout(caller)
	case protocol.ActionRecoverPassword:
		body, err = c.handleRecoverPassword(caller, req.Body)
	case protocol.ActionFetchMessages:
		body, err = c.handleFetchMessages(caller)
	case protocol.ActionSendMessage:
		body, err = c.handleSendMessage(caller, req.Body)
	case protocol.ActionCreateGroup:
		body, err = c.handleCreateGroup(caller, req.Body)
	case protocol.ActionSendInvitation:
		body, err = c.handleSendInvitation(caller, req.Body)
	case protocol.ActionAcceptInvitation:
		body, err = c.handleAcceptInvitation(caller, req.Body)
	case protocol.ActionRejectInvitation:
		body, err = c.handleRejectInvitation(caller, req.Body)
	case protocol.ActionLeaveGroup:
		body, err = c.handleLeaveGroup(caller, req.Body)
	default:
		err = clientErr("unknown action %d", req.Code)
	}
	if err != nil {
		return c.fail(action, err)
	}
	return Result{Event: protocol.EventResultOK, Body: body}
}

func (c *Controller) fail(action protocol.ActionType, err error) Result {
	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return Result{Event: protocol.EventErrorAuth, Body: models.ErrorResponse{Error: err.Error()}}
	}
	if isClientError(err) {
		return Result{Event: protocol.EventErrorClient, Body: models.ErrorResponse{Error: err.Error()}}
	}

	c.log.Error("Action failed", "action", action.String(), "error", err)
	if c.out != nil {
		c.out.Publish(events.ServerFault{Meta: events.NewMeta(), Source: "action:" + action.String(), Err: err})
	}
	return Result{Event: protocol.EventErrorServer, Body: models.ErrorResponse{Error: "internal server error"}}
}

func isClientError(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return true
	}
	for _, target := range []error{
		apperrors.ErrNotFound,
		apperrors.ErrUserExists,
		apperrors.ErrInvalidCredentials,
		apperrors.ErrGroupTooSmall,
		apperrors.ErrNotMember,
		apperrors.ErrAlreadyMember,
		apperrors.ErrSelfInvitation,
		apperrors.ErrMalformedBody,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// decode parses a JSON body into dst and validates it. An empty body is
// treated as an empty object.
func decode(body string, dst any) error {
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedBody, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedBody, err)
	}
	return nil
}
