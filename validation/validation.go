// Package validation implements event payload validation: the
// InvalidInput checks spec.md §7 requires handlers to raise before
// touching the store. It is grounded on the teacher's
// internal/validator package — the same plain-function shape for the
// field rules — generalized from email/password regexes to the field
// rules the signaling protocol's event payloads need (content, names,
// ids). Struct additionally runs go-playground/validator struct tags.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate runs the `validate:"..."` struct tags the request DTOs in the
// session package carry — the same package and WithRequiredStructEnabled
// option the teacher's handlers.Setup wires up, generalized from
// registration-form checks to event payload shape checks.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v's `validate` struct tags, returning the first
// failing field wrapped as a plain error the session package's
// errInvalidInput can carry to the client.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%s failed %q validation", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}

const (
	MaxChannelNameLength = 64
	MaxMessageLength     = 4000
	MaxNicknameLength    = 32
	MaxRoleNameLength    = 64
	MaxFetchLimit        = 100
	DefaultFetchLimit    = 50
)

// MessageContent trims content and rejects it if empty or oversized —
// the SEND_MESSAGE precondition of spec.md §4.1/§4.7.
func MessageContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("message content must not be empty")
	}
	if len(trimmed) > MaxMessageLength {
		return "", fmt.Errorf("message content exceeds %d characters", MaxMessageLength)
	}
	return trimmed, nil
}

// ChannelName trims name and rejects it if empty or oversized —
// CREATE_CHANNEL/UPDATE_CHANNEL's "missing channel name" precondition
// of spec.md §7.
func ChannelName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("channel name must not be empty")
	}
	if len(trimmed) > MaxChannelNameLength {
		return "", fmt.Errorf("channel name exceeds %d characters", MaxChannelNameLength)
	}
	return trimmed, nil
}

// Nickname trims and bounds the nickname JOIN_SERVER supplies.
func Nickname(nickname string) (string, error) {
	trimmed := strings.TrimSpace(nickname)
	if trimmed == "" {
		return "", fmt.Errorf("nickname must not be empty")
	}
	if len(trimmed) > MaxNicknameLength {
		return "", fmt.Errorf("nickname exceeds %d characters", MaxNicknameLength)
	}
	return trimmed, nil
}

// RoleName trims and bounds a role's name for CREATE_ROLE/UPDATE_ROLE.
func RoleName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("role name must not be empty")
	}
	if len(trimmed) > MaxRoleNameLength {
		return "", fmt.Errorf("role name exceeds %d characters", MaxRoleNameLength)
	}
	return trimmed, nil
}

// FetchLimit clamps a client-requested FETCH_MESSAGES limit to
// min(limit, 100), defaulting to 50 when unset, per spec.md §4.7.
func FetchLimit(requested int) int {
	if requested <= 0 {
		return DefaultFetchLimit
	}
	if requested > MaxFetchLimit {
		return MaxFetchLimit
	}
	return requested
}

// InstallationID rejects an empty client-supplied persistent id — the
// one identity check spec.md §1's Non-goals leaves the server with
// (no external identity provider, but a JOIN_SERVER still needs a
// non-empty id to key the user row on).
func InstallationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("installation id must not be empty")
	}
	return nil
}
