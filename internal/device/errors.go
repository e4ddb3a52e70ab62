package device

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnreachable Kind = "Unreachable"
	KindRejected    Kind = "Rejected"
	KindBadPayload  Kind = "BadPayload"
)

var (
	ErrInvalidRouter = errors.New("device: router requires host, port, username and secret")
	ErrUnknownFacet  = errors.New("device: unsupported facet")
	ErrThrottled     = errors.New("device: rate limit wait aborted")
)

// Error is the classified outcome of a failed device call. It carries no
// transport detail so credentials and URLs never reach callers.
type Error struct {
	Kind   Kind
	Facet  Facet
	Status int
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRejected:
		return fmt.Sprintf("%s: device rejected request with HTTP %d", e.Facet, e.Status)
	case KindBadPayload:
		return fmt.Sprintf("%s: device returned a malformed response", e.Facet)
	default:
		return fmt.Sprintf("%s: device unreachable", e.Facet)
	}
}

// AsError unwraps err into a device error.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
