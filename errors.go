package musepa

import (
	"errors"

	"github.com/plgd-dev/go-coap/v2/message/codes"
)

// Sentinel errors for the request/response edge. Handlers return one of
// these (or a plain backend error) and the dispatcher maps it to a CoAP
// response code; nothing below the dispatcher needs to know about CoAP.
var (
	ErrBadOption          = errors.New("musepa: payload required")
	ErrBadRequest         = errors.New("musepa: request rejected")
	ErrNotFound           = errors.New("musepa: not found")
	ErrForbidden          = errors.New("musepa: caller is not an observer")
	ErrBackendUnreachable = errors.New("musepa: backend unreachable")
	ErrBackendError       = errors.New("musepa: backend error")
	ErrDuplicatePrefix    = errors.New("musepa: prefix already registered")
)

// codeForError maps a sentinel error kind to the CoAP response code used at
// the wire edge, mirroring the HTTP->CoAP status table the teacher keeps in
// coap.go, but going straight from an internal error kind to a codes.Code
// since there is no intermediate HTTP status here.
func codeForError(err error) codes.Code {
	switch {
	case errors.Is(err, ErrBadOption):
		return codes.BadOption
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrForbidden):
		return codes.Forbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrBackendError):
		return codes.BadRequest
	default:
		return codes.InternalServerError
	}
}
