package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for config.Initialize and registry lookups. Wrap these
// with fmt.Errorf("%w: ...", ErrX) so callers can errors.Is against a
// stable cause even after the message gains detail.
var (
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrValidationFailed = errors.New("configuration validation failed")

	ErrAgentNotFound       = errors.New("agent not found")
	ErrChainNotFound       = errors.New("chain not found")
	ErrMCPServerNotFound   = errors.New("MCP server not found")
	ErrLLMProviderNotFound = errors.New("LLM provider not found")

	ErrInvalidReference     = errors.New("invalid configuration reference")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid field value")
)

// LoadError wraps a failure to read or parse one of the config files
// (tarsy.yaml, llm-providers.yaml) with the file name that failed.
type LoadError struct {
	File string
	Err  error
}

func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ValidationError names the component and field a ValidateAll check
// rejected, so a single failing agent or chain doesn't get lost in a list
// of bare error strings.
type ValidationError struct {
	Component string
	ID        string
	Field     string
	Err       error
}

func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
	}
	return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
