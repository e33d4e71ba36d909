package model

import (
	"errors"
	"fmt"
)

// Error classes. Callers match them with errors.Is; the HTTP edge maps each
// class onto a status code.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrRecipientNotFound    = fmt.Errorf("recipient %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("message %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)

	ErrNotSender    = fmt.Errorf("%w: only the sender may change this message", ErrForbidden)
	ErrNotRecipient = fmt.Errorf("%w: only the recipient may read this message", ErrForbidden)
	ErrNotOwner     = fmt.Errorf("%w: notification belongs to another user", ErrForbidden)

	ErrEditWindowExpired   = fmt.Errorf("%w: edit window expired", ErrConflict)
	ErrDeleteWindowExpired = fmt.Errorf("%w: delete window expired", ErrConflict)
	ErrMessageDeleted      = fmt.Errorf("%w: message was deleted", ErrConflict)
)

// Invalid wraps ErrValidation with a field-specific reason.
func Invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}
