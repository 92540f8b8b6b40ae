package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Values describes the possible configuration values that a user can
// modify and supply to the daemon.
type Values struct {
	Adapter        string `koanf:"adapter"`
	StateDir       string `koanf:"state-dir"`
	ConnectTimeout string `koanf:"connect-timeout"`
	User           int    `koanf:"user"`

	ConnectTimeoutDuration time.Duration
}

// validateValues validates all configuration values.
func (v *Values) validateValues(configPath string) error {
	for _, validate := range []func(string) error{
		v.validateAdapter,
		v.validateStateDir,
		v.validateConnectTimeout,
		v.validateUser,
	} {
		if err := validate(configPath); err != nil {
			return err
		}
	}

	return nil
}

// validateAdapter applies the default adapter name.
func (v *Values) validateAdapter(_ string) error {
	if v.Adapter == "" {
		v.Adapter = "hci0"
	}

	return nil
}

// validateStateDir validates the directory the per-user settings files
// are stored in, defaulting to a directory next to the configuration.
func (v *Values) validateStateDir(configPath string) error {
	if v.StateDir == "" {
		v.StateDir = filepath.Join(configPath, "state")
		return nil
	}

	if statpath, err := os.Stat(v.StateDir); err == nil && !statpath.IsDir() {
		return fmt.Errorf("%s: Not a directory", v.StateDir)
	}

	return nil
}

// validateConnectTimeout parses the per-attempt connection timeout.
func (v *Values) validateConnectTimeout(_ string) error {
	if v.ConnectTimeout == "" {
		return nil
	}

	timeout, err := time.ParseDuration(v.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("invalid connect timeout: %s", v.ConnectTimeout)
	}

	if timeout <= 0 {
		return fmt.Errorf("connect timeout must be positive: %s", v.ConnectTimeout)
	}

	v.ConnectTimeoutDuration = timeout

	return nil
}

// validateUser validates the initially active user.
func (v *Values) validateUser(_ string) error {
	if v.User < 0 {
		return fmt.Errorf("invalid user: %d", v.User)
	}

	return nil
}
