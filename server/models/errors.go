package models

import "errors"

var (
	ErrForbidden            = errors.New("action is forbidden")
	ErrDuplicateJob         = errors.New("job with the given name already exists in queue")
	ErrDuplicateContact     = errors.New("a contact with this phone number already exists")
	ErrDuplicateUser        = errors.New("a user with this email, username or phone number already exists")
	ErrSelfInvitation       = errors.New("you can't invite yourself")
	ErrAlreadyGuardian      = errors.New("user is already one of your guardians")
	ErrDuplicateInvitation  = errors.New("an open invitation to this user already exists")
	ErrInvalidTransition    = errors.New("invitation can't move to the requested status")
	ErrMaxResendsReached    = errors.New("invitation has been resent too many times")
	ErrInvalidAlertStatus   = errors.New("sos alert is not in a state that allows this action")
	ErrInvalidLocation      = errors.New("latitude must be in [-90, 90] and longitude in [-180, 180]")
	ErrRecipientNotProvided = errors.New("an email or username is required")
	ErrInvalidFakeCallDelay = errors.New("delay_in_seconds must be a whole number of seconds, 0 or more")
)
