package settings

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
)

// FileStore is a Store backed by one flat file per user in a state
// directory. Values are cached in memory; a storage failure flips the
// disabled flag and the store keeps serving the in-memory state.
type FileStore struct {
	dir string

	values   *xsync.MapOf[string, string]
	loaded   *xsync.MapOf[int, bool]
	disabled *atomic.Bool
}

// NewFileStore returns a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "settings-mkdir",
				"dir", dir,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot create settings directory"),
		)
	}

	return &FileStore{
		dir:      dir,
		values:   xsync.NewMapOf[string, string](),
		loaded:   xsync.NewMapOf[int, bool](),
		disabled: atomic.NewBool(false),
	}, nil
}

// Get returns the value stored for the user and key.
func (f *FileStore) Get(user int, key string) (string, bool) {
	f.loadUser(user)
	return f.values.Load(cacheKey(user, key))
}

// Put stores the value for the user and key and commits the user's file.
func (f *FileStore) Put(user int, key, value string) error {
	f.loadUser(user)
	f.values.Store(cacheKey(user, key), value)

	if err := f.commitUser(user); err != nil {
		f.disabled.Store(true)
		return err
	}

	return nil
}

// Disabled reports whether persistence has been disabled after a
// storage failure.
func (f *FileStore) Disabled() bool {
	return f.disabled.Load()
}

// userFile returns the settings file path for a user.
func (f *FileStore) userFile(user int) string {
	return filepath.Join(f.dir, "user_"+strconv.Itoa(user)+".settings")
}

// loadUser reads a user's settings file into the cache once.
func (f *FileStore) loadUser(user int) {
	if _, ok := f.loaded.Load(user); ok {
		return
	}
	f.loaded.Store(user, true)

	file, err := os.Open(f.userFile(user))
	if err != nil {
		if !os.IsNotExist(err) {
			f.disabled.Store(true)
		}

		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}

		f.values.Store(cacheKey(user, key), value)
	}
}

// commitUser writes a user's cached values to its settings file,
// atomically via a rename.
func (f *FileStore) commitUser(user int) error {
	prefix := strconv.Itoa(user) + "/"

	var sb strings.Builder
	f.values.Range(func(k, v string) bool {
		if strings.HasPrefix(k, prefix) {
			sb.WriteString(strings.TrimPrefix(k, prefix))
			sb.WriteString("=")
			sb.WriteString(v)
			sb.WriteString("\n")
		}

		return true
	})

	path := f.userFile(user)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(sb.String()), 0o600); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "settings-write",
				"path", path,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot write settings file"),
		)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "settings-rename",
				"path", path,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot commit settings file"),
		)
	}

	return nil
}

// cacheKey builds the cache key for a user-scoped setting.
func cacheKey(user int, key string) string {
	return strconv.Itoa(user) + "/" + key
}
