package errors

import "net/http"

// Code classifies a failure so both transports can report it the same way.
type Code string

const (
	// CodeValidation indicates a malformed or missing field.
	CodeValidation Code = "VALIDATION"
	// CodeNotFound indicates a battle, creature or move reference did not resolve.
	CodeNotFound Code = "NOT_FOUND"
	// CodeForbidden indicates a non-participant or non-owner.
	CodeForbidden Code = "FORBIDDEN"
	// CodeOutOfTurn indicates the acting identity does not hold the turn.
	CodeOutOfTurn Code = "OUT_OF_TURN"
	// CodeInvalidState indicates the battle phase does not permit the action.
	CodeInvalidState Code = "INVALID_STATE"
	// CodeInvalidSelection indicates a fainted or unknown creature was chosen.
	CodeInvalidSelection Code = "INVALID_SELECTION"
	// CodeConflict indicates the battle is already full or started.
	CodeConflict Code = "CONFLICT"
	// CodeUnauthenticated indicates a missing or invalid identity token.
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	// CodeInternal indicates a persistence or unexpected failure.
	CodeInternal Code = "INTERNAL"
)

// String returns the wire form of the code.
func (c Code) String() string {
	return string(c)
}

// HTTPStatus maps the code to the status returned by the HTTP surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeOutOfTurn, CodeInvalidState, CodeConflict:
		return http.StatusConflict
	case CodeInvalidSelection:
		return http.StatusUnprocessableEntity
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
