package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind names an error class in the run failure taxonomy.
type Kind string

const (
	KindConfiguration      Kind = "configuration"
	KindMissingInput       Kind = "missing_input"
	KindTransientExhausted Kind = "transient_exhausted"
	KindAuth               Kind = "auth"
	KindModelConfig        Kind = "model_config"
	KindSchemaValidation   Kind = "schema_validation"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal"
)

// ConfigurationError reports a bad or missing credential pool, or role
// configuration that has no embedded fallback.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Message, e.Cause)
	}
	return "configuration: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// MissingInputError lists every mandatory run input that was absent.
type MissingInputError struct {
	Fields []string
}

func (e *MissingInputError) Error() string {
	return "missing required inputs: " + strings.Join(e.Fields, ", ")
}

// TransientExhaustedError is returned once every retry of a transient
// failure has been spent.
type TransientExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *TransientExhaustedError) Error() string {
	return fmt.Sprintf("transient failure after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *TransientExhaustedError) Unwrap() error { return e.LastErr }

// AuthError is a rejected credential. Never retried.
type AuthError struct {
	Credential string // masked
	Cause      error
}

func (e *AuthError) Error() string {
	if e.Credential != "" {
		return fmt.Sprintf("credential %s rejected: %v", e.Credential, e.Cause)
	}
	return fmt.Sprintf("credential rejected: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// ModelConfigError is an invalid model name or malformed request. Never retried.
type ModelConfigError struct {
	Model string
	Cause error
}

func (e *ModelConfigError) Error() string {
	return fmt.Sprintf("model %q: %v", e.Model, e.Cause)
}

func (e *ModelConfigError) Unwrap() error { return e.Cause }

// TaskError attaches the failing task and agent role to an underlying error.
type TaskError struct {
	TaskID string
	Role   string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s (agent %s): %v", e.TaskID, e.Role, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// kinded lets errors defined in other packages report their taxonomy kind.
type kinded interface {
	ErrorKind() Kind
}

// KindOf maps err onto the failure taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var (
		cfgErr   *ConfigurationError
		inputErr *MissingInputError
		exhErr   *TransientExhaustedError
		authErr  *AuthError
		modelErr *ModelConfigError
		k        kinded
	)
	switch {
	case errors.As(err, &inputErr):
		return KindMissingInput
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &modelErr):
		return KindModelConfig
	case errors.As(err, &exhErr):
		return KindTransientExhausted
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &k):
		return k.ErrorKind()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	}
	return KindInternal
}

// Describe renders err as "kind: message" for user-facing output.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", KindOf(err), err)
}
