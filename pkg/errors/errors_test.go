package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without cause",
			err:      NewMigrationError("revision failed", nil),
			expected: "migration: revision failed",
		},
		{
			name:     "error with cause",
			err:      NewDependencyError("database never became healthy", fmt.Errorf("probe budget exhausted")),
			expected: "dependency: database never became healthy: probe budget exhausted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connect: no such file or directory")
	err := NewUpstreamError("upstream socket unavailable", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestDomainError_TypeCheckers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
		matches bool
	}{
		{"migration error matches", NewMigrationError("m", nil), IsMigrationError, true},
		{"dependency error matches", NewDependencyError("d", nil), IsDependencyError, true},
		{"upstream error matches", NewUpstreamError("u", nil), IsUpstreamError, true},
		{"health check error matches", NewHealthCheckError("h", nil), IsHealthCheckError, true},
		{"process error matches", NewProcessError("p", nil), IsProcessError, true},
		{"validation error matches", NewValidationError("v", nil), IsValidationError, true},
		{"type mismatch", NewMigrationError("m", nil), IsUpstreamError, false},
		{"plain error", fmt.Errorf("plain"), IsMigrationError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, tt.checker(tt.err))
		})
	}
}

func TestDomainError_TypeCheckersOnWrappedErrors(t *testing.T) {
	inner := NewMigrationError("revision 0002 failed", nil)
	wrapped := fmt.Errorf("entrypoint phase 1: %w", inner)

	assert.True(t, IsMigrationError(wrapped))
	assert.False(t, IsProcessError(wrapped))
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewDependencyError("gate blocked", nil).
		WithContext("service", "app").
		WithContext("dependency", "database")

	assert.Equal(t, "app", err.Context["service"])
	assert.Equal(t, "database", err.Context["dependency"])
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.Nil(t, collection.ToError())
	assert.Equal(t, "no errors", collection.Error())

	collection.Add(nil) // nil errors are ignored
	assert.False(t, collection.HasErrors())

	first := NewProcessError("failed to stop service", nil)
	collection.Add(first)
	assert.True(t, collection.HasErrors())
	assert.Equal(t, first.Error(), collection.Error())

	collection.Add(NewProcessError("failed to stop another service", nil))
	assert.Contains(t, collection.Error(), "2 errors occurred")
	assert.Error(t, collection.ToError())
}
