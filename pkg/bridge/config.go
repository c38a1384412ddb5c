package bridge

import (
	"errors"
	"log/slog"
	"os"
	"time"
)

const (
	// DefaultSettingsName is the settings namespace in which the grant is stored.
	DefaultSettingsName = "docTreeAccess"
	// DefaultGrantKey is the key under which the grant's tree URI is stored.
	DefaultGrantKey = "folder_uri"
)

// Config provides a way to configure the FolderAccessBridge depending on your needs.
type Config struct {
	// Composer points to the composer from which the document provider and
	// the optional components should be taken. Must not be nil.
	Composer *Composer
	// SettingsName is the namespace in the settings store used for the grant.
	// Defaults to DefaultSettingsName.
	SettingsName string
	// GrantKey is the key in the settings namespace used for the grant.
	// Defaults to DefaultGrantKey.
	GrantKey string
	// SelectionTimeout limits how long RequestFolderAccess waits for the user
	// to make a choice. The timer is stopped once the selection resolved.
	// A negative value disables the timeout. Defaults to 30s.
	SelectionTimeout time.Duration
	// AcquireLockTimeout limits how long an operation waits for a lock, e.g. when
	// another folder selection is still outstanding. Defaults to 20s.
	AcquireLockTimeout time.Duration
	// MaxReadSize limits how many bytes ReadEntry loads into memory. If its
	// value is 0 or smaller no limit will be enforced.
	MaxReadSize int64
	// NotifyEvents indicates whether events should be sent on the Events
	// channel of the bridge. If enabled, the channel must be consumed.
	NotifyEvents bool
	// PreWriteCallback will be invoked before an entry is written, if the
	// property is supplied. If the error is non-nil, the entry will not be
	// written and the error is returned to the caller.
	PreWriteCallback func(event Event) error
	// Logger is the logger to use internally.
	Logger *slog.Logger
}

func (config *Config) validate() error {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	if config.Composer == nil {
		return errors.New("doctree: Composer must not be nil")
	}

	if config.Composer.Provider == nil {
		return errors.New("doctree: Composer in Config needs to contain a non-nil provider")
	}

	if !config.Composer.UsesSettings {
		return errors.New("doctree: Composer in Config needs to contain a settings store")
	}

	if config.SettingsName == "" {
		config.SettingsName = DefaultSettingsName
	}

	if config.GrantKey == "" {
		config.GrantKey = DefaultGrantKey
	}

	if config.SelectionTimeout == 0 {
		config.SelectionTimeout = 30 * time.Second
	}

	if config.AcquireLockTimeout <= 0 {
		config.AcquireLockTimeout = 20 * time.Second
	}

	return nil
}
