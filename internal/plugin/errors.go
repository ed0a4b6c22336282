package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidManifest is returned when plugin.json is missing, unreadable
	// or lacks a required field.
	ErrInvalidManifest = errors.New("invalid plugin manifest")
	// ErrIncompatibleVersion is returned when the host is older than the
	// plugin's minAppVersion.
	ErrIncompatibleVersion = errors.New("plugin requires a newer app version")
	// ErrMissingAsset is returned when a declared entry script or stylesheet
	// does not exist.
	ErrMissingAsset = errors.New("plugin asset missing")
	// ErrAlreadyInstalled is returned when a plugin with the same id exists.
	ErrAlreadyInstalled = errors.New("plugin already installed")
	// ErrPluginNotFound is returned for an unknown plugin id.
	ErrPluginNotFound = errors.New("plugin not found")
)

// ValidationError describes why a plugin directory was rejected. Err is one
// of ErrInvalidManifest, ErrIncompatibleVersion or ErrMissingAsset.
type ValidationError struct {
	Path   string
	Field  string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("plugin %s: %v", e.Path, e.Err)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
