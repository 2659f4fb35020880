package errors

import "fmt"

var (
	ErrNotFound           = fmt.Errorf("not found")
	ErrUserExists         = fmt.Errorf("user already exists")
	ErrInvalidCredentials = fmt.Errorf("wrong password")
	ErrGroupTooSmall      = fmt.Errorf("a group needs at least two members besides its creator")
	ErrNotMember          = fmt.Errorf("not a member of the group")
	ErrAlreadyMember      = fmt.Errorf("already a member of the group")
	ErrSelfInvitation     = fmt.Errorf("cannot invite yourself")
	ErrMalformedBody      = fmt.Errorf("malformed request body")
)
