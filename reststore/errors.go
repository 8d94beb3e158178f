package reststore

import (
	"errors"
	"net/http"

	"boardportal/resolution"
)

// Wire codes shared by the handler and the client.
const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "not_found"
	codeUnknownSignatory = "unknown_signatory"
	codeAlreadySigned    = "already_signed"
	codeNotSignable      = "not_signable"
	codeStatusConflict   = "status_conflict"
	codeInternal         = "internal_error"
)

var codeErrors = map[string]error{
	codeNotFound:         resolution.ErrNotFound,
	codeUnknownSignatory: resolution.ErrUnknownSignatory,
	codeAlreadySigned:    resolution.ErrAlreadySigned,
	codeNotSignable:      resolution.ErrResolutionNotSignable,
	codeStatusConflict:   resolution.ErrStatusConflict,
}

// statusFor maps a backend error onto the facade's wire status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, resolution.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, resolution.ErrUnknownSignatory):
		return http.StatusNotFound, codeUnknownSignatory
	case errors.Is(err, resolution.ErrAlreadySigned):
		return http.StatusConflict, codeAlreadySigned
	case errors.Is(err, resolution.ErrResolutionNotSignable):
		return http.StatusConflict, codeNotSignable
	case errors.Is(err, resolution.ErrStatusConflict):
		return http.StatusConflict, codeStatusConflict
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
