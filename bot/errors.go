package bot

import (
	"errors"
	"fmt"
	"log/slog"

	"validatorgate/backend"
	"validatorgate/platform"
	"validatorgate/roles"
	"validatorgate/session"
	"validatorgate/stats"
	"validatorgate/verification"
)

// UserError carries a message safe to show the invoking user.
type UserError interface {
	error
	UserMessage() string
}

type userError struct {
	msg   string
	cause error
}

func (e *userError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *userError) UserMessage() string { return e.msg }
func (e *userError) Unwrap() error       { return e.cause }

// Userf builds a UserError with a formatted message.
func Userf(format string, args ...any) error {
	return &userError{msg: fmt.Sprintf(format, args...)}
}

// WrapUser attaches a user-facing message to cause.
func WrapUser(cause error, msg string) error {
	return &userError{msg: msg, cause: cause}
}

// errNotConfigured marks a command whose backing component is not set up.
var errNotConfigured = errors.New("component not configured")

func notConfigured(component string) error {
	return fmt.Errorf("%w: %s", errNotConfigured, component)
}

const (
	msgGeneric       = "Something went wrong. Please try again later."
	msgNotConfigured = "This feature is not configured. Please contact an administrator."
	msgUnknown       = "Unknown interaction."
)

// describe maps err to the reply text and the level it should be logged at.
func describe(err error) (string, slog.Level) {
	var ue UserError
	switch {
	case errors.As(err, &ue):
		return ue.UserMessage(), slog.LevelInfo
	case errors.Is(err, errNotConfigured), errors.Is(err, roles.ErrMissingConfiguration):
		return msgNotConfigured, slog.LevelError
	case errors.Is(err, session.ErrNotFound):
		return "Your verification session has expired or does not exist. Run /verify to start again.", slog.LevelInfo
	case errors.Is(err, verification.ErrNotOwner):
		return "That verification session belongs to someone else.", slog.LevelInfo
	case errors.Is(err, verification.ErrSessionClosed):
		return "That verification session is already finished. Run /verify to start again.", slog.LevelInfo
	case errors.Is(err, verification.ErrInvalidAddress):
		return "That does not look like a valid wallet address.", slog.LevelInfo
	case errors.Is(err, verification.ErrInvalidSignature):
		return "That signature is malformed. Paste the full 0x-prefixed signature.", slog.LevelInfo
	case errors.Is(err, verification.ErrSignatureMismatch):
		return "The signature was not produced by the connected wallet.", slog.LevelInfo
	case errors.Is(err, verification.ErrUnavailable):
		return msgNotConfigured, slog.LevelError
	case errors.Is(err, stats.ErrUnknownValidator):
		return "No stats were reported for that validator in the current epoch.", slog.LevelInfo
	case errors.Is(err, roles.ErrEntityNotFound):
		var nf *roles.NotFoundError
		if errors.As(err, &nf) {
			return fmt.Sprintf("The %s %q could not be found in this server. Please contact an administrator.", nf.Entity, nf.Name), slog.LevelError
		}
		return msgNotConfigured, slog.LevelError
	case errors.Is(err, backend.ErrForbidden):
		return "You are not allowed to do that.", slog.LevelWarn
	case errors.Is(err, backend.ErrNotFound):
		return "No matching record was found.", slog.LevelInfo
	case errors.Is(err, platform.ErrNotFound):
		return "The requested server object no longer exists.", slog.LevelWarn
	default:
		return msgGeneric, slog.LevelError
	}
}
