package liveness

import (
	"context"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/auto-connect/errorkinds"
	"github.com/godbus/dbus/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
)

// DbusWatcher watches bus name ownership to detect requester death.
// A requester's token owner is its unique bus name; losing ownership
// of that name means the requester process is gone.
type DbusWatcher struct {
	conn *dbus.Conn

	arena   *xsync.MapOf[uint64, *subscription]
	nextKey *atomic.Uint64
	closed  *atomic.Bool
}

// NewDbusWatcher returns a watcher listening for NameOwnerChanged signals
// on the provided bus connection.
func NewDbusWatcher(conn *dbus.Conn) (*DbusWatcher, error) {
	w := &DbusWatcher{
		conn:    conn,
		arena:   xsync.NewMapOf[uint64, *subscription](),
		nextKey: atomic.NewUint64(0),
		closed:  atomic.NewBool(false),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "liveness-addmatch"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot watch bus name ownership"),
		)
	}

	ch := make(chan *dbus.Signal, 10)
	conn.Signal(ch)

	go w.watch(ch)

	return w, nil
}

// Subscribe registers fn to be invoked once when the token's requester dies.
// Restored tokens receive a no-op handle.
func (w *DbusWatcher) Subscribe(token Token, fn func()) (Handle, error) {
	if token.IsRestored() {
		return nopHandle{}, nil
	}

	if w.closed.Load() {
		return nil, errorkinds.ErrWatcherClosed
	}

	key := w.nextKey.Inc()
	w.arena.Store(key, &subscription{owner: token.Owner, fn: fn})

	return &arenaHandle{arena: w.arena, key: key}, nil
}

// Close stops dispatching death notifications.
func (w *DbusWatcher) Close() {
	w.closed.Store(true)
	w.arena.Clear()
}

// watch dispatches NameOwnerChanged signals to matching subscriptions.
func (w *DbusWatcher) watch(ch chan *dbus.Signal) {
	for signal := range ch {
		if signal.Name != "org.freedesktop.DBus.NameOwnerChanged" {
			continue
		}

		if len(signal.Body) < 3 {
			continue
		}

		name, ok := signal.Body[0].(string)
		if !ok {
			continue
		}

		newOwner, ok := signal.Body[2].(string)
		if !ok || newOwner != "" {
			continue
		}

		w.fire(name)
	}
}

// fire invokes and removes every subscription registered for the owner.
func (w *DbusWatcher) fire(owner string) {
	if w.closed.Load() {
		return
	}

	var fired []*subscription

	w.arena.Range(func(key uint64, sub *subscription) bool {
		if sub.owner == owner {
			w.arena.Delete(key)
			fired = append(fired, sub)
		}

		return true
	})

	for _, sub := range fired {
		sub.fn()
	}
}
