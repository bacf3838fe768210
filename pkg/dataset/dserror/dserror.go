// Package dserror defines the error kinds the dataset engine produces,
// mirroring the exception hierarchy of the original
// ecommerce.db.dataset / ecommerce.db.codetables packages: one Go error
// type per kind, rather than a single generic error, so callers can
// discriminate with errors.As.
package dserror

import "fmt"

// ConfigurationError signals a malformed recipe (bad group/key columns,
// unknown coercion type, malformed hook name, ...). Fatal for the
// containing group.
type ConfigurationError struct {
	Entity  string
	Dataset string
	Msg     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dataset configuration error [%s/%s]: %s", e.Entity, e.Dataset, e.Msg)
}

// RecipeNotFound signals that no recipe file exists for the requested
// (entity, dataset, application).
type RecipeNotFound struct {
	Application string
	Entity      string
	Dataset     string
}

func (e *RecipeNotFound) Error() string {
	return fmt.Sprintf("dataset [%s/%s] not found for application %q", e.Entity, e.Dataset, e.Application)
}

// RecipeSyntaxError signals that a recipe file was found but failed to
// parse.
type RecipeSyntaxError struct {
	Entity  string
	Dataset string
	Path    string
	Cause   error
}

func (e *RecipeSyntaxError) Error() string {
	return fmt.Sprintf("syntax error in dataset file for [%s/%s] (%s): %v", e.Entity, e.Dataset, e.Path, e.Cause)
}

func (e *RecipeSyntaxError) Unwrap() error { return e.Cause }

// RuntimeError wraps a query execution, hook, or procedure failure. Fatal
// for the containing group; Cause carries the originating error.
type RuntimeError struct {
	Entity  string
	Dataset string
	Msg     string
	Cause   error
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dataset runtime error [%s/%s]: %s: %v", e.Entity, e.Dataset, e.Msg, e.Cause)
	}
	return fmt.Sprintf("dataset runtime error [%s/%s]: %s", e.Entity, e.Dataset, e.Msg)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// UnknownHook signals that a named hook's module or function could not be
// bound.
type UnknownHook struct {
	Name string
	Msg  string
}

func (e *UnknownHook) Error() string {
	return fmt.Sprintf("unknown hook %q: %s", e.Name, e.Msg)
}

// MissingKey signals that the solver's result mapping had no entry for a
// requested id. Per-id, non-fatal to the rest of the group.
type MissingKey struct {
	EntityID string
}

func (e *MissingKey) Error() string {
	return fmt.Sprintf("missing key %s", e.EntityID)
}
