package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New("ENTITY_NOT_FOUND", "video not found", http.StatusNotFound),
			want: "ENTITY_NOT_FOUND: video not found",
		},
		{
			name: "with wrapped error",
			err:  Wrap(fmt.Errorf("db error"), "PERSIST_FAILED", "save failed", http.StatusInternalServerError),
			want: "PERSIST_FAILED: save failed: db error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap(inner, "CODE", "msg", 500)

	if !errors.Is(appErr, inner) {
		t.Error("errors.Is should match inner error")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NotFound("NOT_FOUND", "resource not found")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	got, ok := IsAppError(wrapped)
	if !ok {
		t.Fatal("IsAppError should return true for wrapped AppError")
	}
	if got.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want NOT_FOUND", got.Code)
	}
	if !HasCode(wrapped, "NOT_FOUND") {
		t.Error("HasCode should match wrapped code")
	}
	if HasCode(fmt.Errorf("plain"), "NOT_FOUND") {
		t.Error("HasCode should not match a plain error")
	}
}

func TestCodedConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"entity not found", ErrEntityNotFoundf("MyVideo", "v1"), CodeEntityNotFound, http.StatusNotFound},
		{"invalid filter", ErrInvalidFilterf("MyVideo", "nope"), CodeInvalidFilter, http.StatusBadRequest},
		{"invalid status", ErrInvalidStatusf("MyVideo", "LOST"), CodeInvalidStatus, http.StatusBadRequest},
		{"config", ErrConfigf("missing %s", "DB_HOST"), CodeConfigInvalid, http.StatusInternalServerError},
		{"conflict", Conflict("CF", "conflict"), "CF", http.StatusConflict},
		{"unauthorized", Unauthorized("UA", "unauthorized"), "UA", http.StatusUnauthorized},
		{"internal", Internal("IE", "internal"), "IE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.wantStatus)
			}
		})
	}
}

func TestErrInvalidFilterf_Params(t *testing.T) {
	err := ErrInvalidFilterf("MyVideo", "colour")
	if err.Params["column"] != "colour" {
		t.Errorf("Params[column] = %v, want colour", err.Params["column"])
	}
	if err.Params["entity"] != "MyVideo" {
		t.Errorf("Params[entity] = %v, want MyVideo", err.Params["entity"])
	}
}
