package errors

import (
	"fmt"
	"net/http"
)

// Persistence error codes.
const (
	CodeEntityNotFound   = "ENTITY_NOT_FOUND"
	CodeInvalidFilter    = "INVALID_FILTER"
	CodeInvalidStatus    = "INVALID_STATUS"
	CodeUnsupportedField = "UNSUPPORTED_FIELD"
	CodePersistFailed    = "PERSIST_FAILED"
	CodeDuplicateType    = "DUPLICATE_ENTITY_TYPE"
)

// Connection and configuration error codes.
const (
	CodeConfigInvalid = "CONFIG_INVALID"
	CodeConnectFailed = "CONNECT_FAILED"
)

// Media domain error codes.
const (
	CodeInvalidPlatform = "INVALID_PLATFORM"
	CodeInvalidAccount  = "INVALID_ACCOUNT"
	CodeInvalidRequest  = "INVALID_REQUEST"
)

// Auth error codes.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)

// ErrEntityNotFoundf creates a 404 for an entity id missing from its table.
func ErrEntityNotFoundf(entity, id string) *AppError {
	return NotFound(CodeEntityNotFound, fmt.Sprintf("%s %q not found", entity, id)).
		WithParams(map[string]interface{}{"entity": entity, "id": id})
}

// ErrInvalidFilterf reports a filter on a column the entity does not declare.
func ErrInvalidFilterf(entity, column string) *AppError {
	return BadRequest(CodeInvalidFilter, fmt.Sprintf("invalid filter column %q for %s", column, entity)).
		WithParams(map[string]interface{}{"entity": entity, "column": column})
}

// ErrInvalidStatusf reports a status value outside the declared enumeration.
func ErrInvalidStatusf(entity, status string) *AppError {
	return BadRequest(CodeInvalidStatus, fmt.Sprintf("status %q is not declared for %s", status, entity)).
		WithParams(map[string]interface{}{"entity": entity, "status": status})
}

// ErrConfigf creates a fatal configuration error. Callers must not retry it.
func ErrConfigf(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:       CodeConfigInvalid,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusInternalServerError,
	}
}

// ErrUnsupportedFieldf reports a struct field whose Go type has no storage
// mapping. It is a configuration error raised when the schema is derived.
func ErrUnsupportedFieldf(entity, field, goType string) *AppError {
	return &AppError{
		Code:       CodeUnsupportedField,
		Message:    fmt.Sprintf("%s.%s has unsupported type %s", entity, field, goType),
		HTTPStatus: http.StatusInternalServerError,
		Params:     map[string]interface{}{"entity": entity, "field": field},
	}
}
