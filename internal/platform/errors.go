package platform

import "errors"

// ErrMessageGone marks edit/delete/react failures against a message that no
// longer exists. Callers degrade gracefully instead of propagating it.
var ErrMessageGone = errors.New("message no longer exists")

// IsGone reports whether err indicates the target message vanished.
func IsGone(err error) bool {
	return errors.Is(err, ErrMessageGone)
}
