package errorkinds

import "errors"

// The different general error types.
var (
	ErrProxyUnavailable = errors.New("profile proxy is not available")
	ErrAdapterOff       = errors.New("adapter is not powered on")

	ErrProfileNotTracked = errors.New("profile is not tracked by the policy")
	ErrDeviceNotTracked  = errors.New("device is not tracked by the policy")

	ErrDuplicateInhibit = errors.New("an identical inhibit request already exists")
	ErrInhibitNotFound  = errors.New("inhibit record does not exist")

	ErrParamsParse = errors.New("cannot parse connection parameters")

	ErrPersistenceDisabled = errors.New("settings persistence is disabled")
	ErrSettingsRead        = errors.New("cannot read from the settings store")
	ErrSettingsWrite       = errors.New("cannot write to the settings store")

	ErrWatcherClosed = errors.New("liveness watcher is closed")
)

// PolicyError represents an error event published by the policy.
type PolicyError struct {
	// Errors stores all associated errors.
	Errors error `json:"errors,omitempty" doc:"A set of policy errors."`
}

// Error returns the formatted error as string.
func (e PolicyError) Error() string {
	return e.Errors.Error()
}

// Unwrap unwraps all errors associated with this error.
func (e PolicyError) Unwrap() error {
	return e.Errors
}
