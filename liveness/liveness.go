// Package liveness tracks the liveness of external requesters. An inhibit
// request stays active only while its requester is alive; a watcher turns
// requester death into a callback.
//
// Tokens are tagged: a live token names a bus peer that can die, a restored
// token is a synthetic placeholder recreated from persisted state and never
// signals death.
package liveness

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Kind represents the kind of a token.
type Kind int

// The different token kinds.
const (
	// Live marks a token backed by a live requester.
	Live Kind = iota

	// Restored marks a synthetic token recreated from persisted state.
	Restored
)

// Token identifies one requester of an inhibit.
type Token struct {
	// Kind holds the token kind.
	Kind Kind

	// Owner holds the bus identity of a live requester. Empty for
	// restored tokens.
	Owner string

	// ID disambiguates multiple tokens from the same owner.
	ID string
}

// LiveToken returns a token for a live requester.
func LiveToken(owner, id string) Token {
	return Token{Kind: Live, Owner: owner, ID: id}
}

// RestoredToken returns a synthetic token for a restored inhibit record.
func RestoredToken(id string) Token {
	return Token{Kind: Restored, ID: id}
}

// IsRestored returns whether the token is a restored placeholder.
func (t Token) IsRestored() bool {
	return t.Kind == Restored
}

// Handle represents one registered death subscription.
type Handle interface {
	// Cancel deregisters the subscription. Cancelling an already
	// cancelled handle is a no-op.
	Cancel()
}

// Watcher turns requester death into callbacks.
type Watcher interface {
	// Subscribe registers fn to be invoked once when the token's
	// requester dies. Restored tokens never fire.
	Subscribe(token Token, fn func()) (Handle, error)
}

// nopHandle is the handle for subscriptions that can never fire.
type nopHandle struct{}

func (nopHandle) Cancel() {}

// subscription is one arena-indexed death subscription.
type subscription struct {
	owner string
	fn    func()
}

// arenaHandle cancels a subscription by removing it from the arena,
// so a late death signal never calls into released state.
type arenaHandle struct {
	arena *xsync.MapOf[uint64, *subscription]
	key   uint64
}

func (h *arenaHandle) Cancel() {
	h.arena.Delete(h.key)
}
