// Package settings provides the per-user key-value string store the
// connection policy persists its device priority lists and inhibit
// records into.
package settings

// Store describes a per-user key-value string store.
type Store interface {
	// Get returns the value stored for the user and key, and whether
	// the value exists.
	Get(user int, key string) (string, bool)

	// Put stores the value for the user and key.
	Put(user int, key, value string) error

	// Disabled reports whether persistence has been disabled after a
	// storage failure. Reads and writes still operate on in-memory
	// state while disabled.
	Disabled() bool
}
