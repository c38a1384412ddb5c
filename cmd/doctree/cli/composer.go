package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tus/doctree/internal/s3log"
	"github.com/tus/doctree/pkg/azureprovider"
	"github.com/tus/doctree/pkg/bridge"
	"github.com/tus/doctree/pkg/dirprovider"
	"github.com/tus/doctree/pkg/filelocker"
	"github.com/tus/doctree/pkg/fileprefs"
	"github.com/tus/doctree/pkg/gcsprovider"
	"github.com/tus/doctree/pkg/memorylocker"
	"github.com/tus/doctree/pkg/memoryprefs"
	"github.com/tus/doctree/pkg/picker"
	"github.com/tus/doctree/pkg/redislocker"
	"github.com/tus/doctree/pkg/redisprefs"
	"github.com/tus/doctree/pkg/s3provider"
	"github.com/tus/doctree/pkg/sqliteprefs"
)

var Composer *bridge.Composer

// S3Provider is set if the S3 provider is used, so its request metrics can be
// registered.
var S3Provider *s3provider.S3Provider

// TerminalPicker is set if the folder selection happens on this terminal. It
// must be bound to the bridge once it is created.
var TerminalPicker *picker.TerminalPicker

// closers are closed in reverse order when the server shuts down.
var closers []io.Closer

func CreateComposer() error {
	Composer = bridge.NewComposer()
	S3Provider = nil
	TerminalPicker = nil
	closers = nil

	if err := createProvider(); err != nil {
		return fmt.Errorf("unable to create document provider: %w", err)
	}
	if err := createSettingsStore(); err != nil {
		return fmt.Errorf("unable to create settings store: %w", err)
	}
	if err := createLocker(); err != nil {
		return fmt.Errorf("unable to create locker: %w", err)
	}
	if err := createPicker(); err != nil {
		return fmt.Errorf("unable to create picker: %w", err)
	}

	printStartupLog("%s\n", Composer.Capabilities())
	return nil
}

func createProvider() error {
	ctx := context.Background()

	switch Flags.Provider {
	case "dir":
		provider := dirprovider.New()
		provider.Strict = Flags.DirStrict
		provider.UseIn(Composer)
		closers = append(closers, provider)

		printStartupLog("Using local directories as trees (strict: %t).\n", Flags.DirStrict)
	case "s3":
		// Derive credentials and region from the default credential chain (env,
		// shared config, instance role).
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return err
		}

		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if Flags.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(Flags.S3Endpoint)
			}
			o.UsePathStyle = Flags.S3PathStyle
		})

		var service s3provider.S3API = client
		if Flags.S3LogAPICalls {
			service = s3log.New(service, slog.Default())
		}

		S3Provider = s3provider.New(service)
		S3Provider.UseIn(Composer)

		if Flags.S3Endpoint == "" {
			printStartupLog("Using s3:// URIs as trees.\n")
		} else {
			printStartupLog("Using s3:// URIs as trees at endpoint '%s'.\n", Flags.S3Endpoint)
		}
	case "gcs":
		var service *gcsprovider.GCSService
		var err error
		if Flags.GCSCredentials != "" {
			service, err = gcsprovider.NewGCSServiceFromFile(ctx, Flags.GCSCredentials)
		} else {
			service, err = gcsprovider.NewGCSService(ctx)
		}
		if err != nil {
			return err
		}

		gcsprovider.New(service).UseIn(Composer)
		closers = append(closers, service.Client)

		printStartupLog("Using gs:// URIs as trees.\n")
	case "azure":
		accountName := Flags.AzAccountName
		if accountName == "" {
			accountName = os.Getenv("AZURE_STORAGE_ACCOUNT")
		}
		if accountName == "" {
			return errors.New("no Azure storage account provided using -azure-account or AZURE_STORAGE_ACCOUNT")
		}

		service, err := azureprovider.NewAzureService(&azureprovider.AzConfig{
			AccountName:    accountName,
			AccountKey:     os.Getenv("AZURE_STORAGE_KEY"),
			BlobAccessTier: Flags.AzBlobAccessTier,
			Endpoint:       Flags.AzEndpoint,
		})
		if err != nil {
			return err
		}

		azureprovider.New(service).UseIn(Composer)

		printStartupLog("Using azblob:// URIs of account '%s' as trees.\n", accountName)
	default:
		return fmt.Errorf("unknown provider %q, must be dir, s3, gcs or azure", Flags.Provider)
	}

	return nil
}

func createSettingsStore() error {
	switch Flags.Settings {
	case "memory":
		memoryprefs.New().UseIn(Composer)

		printStartupLog("Keeping the grant in memory. It will be lost on restart.\n")
	case "file":
		fileprefs.New(Flags.SettingsDir).UseIn(Composer)

		printStartupLog("Using '%s' as settings directory.\n", Flags.SettingsDir)
	case "sqlite":
		store, err := sqliteprefs.New(Flags.SettingsDatabase)
		if err != nil {
			return err
		}
		store.UseIn(Composer)
		closers = append(closers, store)

		printStartupLog("Using '%s' as settings database.\n", Flags.SettingsDatabase)
	case "redis":
		if Flags.RedisURI == "" {
			return errors.New("the redis settings store requires -redis-uri")
		}

		store, err := redisprefs.New(Flags.RedisURI, redisprefs.WithKeyPrefix(Flags.RedisKeyPrefix+"settings:"))
		if err != nil {
			return err
		}
		store.UseIn(Composer)

		printStartupLog("Storing settings in Redis.\n")
	default:
		return fmt.Errorf("unknown settings store %q, must be memory, file, sqlite or redis", Flags.Settings)
	}

	return nil
}

func createLocker() error {
	switch Flags.Locker {
	case "memory":
		memorylocker.New().UseIn(Composer)
	case "file":
		if err := os.MkdirAll(Flags.FilelockDir, os.FileMode(0774)); err != nil {
			return fmt.Errorf("unable to ensure lock directory exists: %w", err)
		}

		locker := filelocker.New(Flags.FilelockDir)
		locker.HolderPollInterval = Flags.FilelockHolderPollInterval
		locker.AcquirerPollInterval = Flags.FilelockAcquirerPollInterval
		locker.UseIn(Composer)

		printStartupLog("Using '%s' as directory for lock files.\n", Flags.FilelockDir)
	case "redis":
		if Flags.RedisURI == "" {
			return errors.New("the redis locker requires -redis-uri")
		}

		locker, err := redislocker.New(Flags.RedisURI, redislocker.WithKeyPrefix(Flags.RedisKeyPrefix+"lock:"))
		if err != nil {
			return err
		}
		locker.UseIn(Composer)

		printStartupLog("Using Redis for locking.\n")
	default:
		return fmt.Errorf("unknown locker %q, must be memory, file or redis", Flags.Locker)
	}

	return nil
}

func createPicker() error {
	switch Flags.Picker {
	case "terminal":
		TerminalPicker = picker.NewTerminalPicker(os.Stdin, os.Stdout)
		TerminalPicker.UseIn(Composer)
	case "remote":
		picker.NewRemotePicker().UseIn(Composer)

		printStartupLog("Waiting for a UI host to answer selections at %sselection.\n", Flags.Basepath)
	default:
		return fmt.Errorf("unknown picker %q, must be terminal or remote", Flags.Picker)
	}

	return nil
}

// closeComponents closes the resources opened by CreateComposer.
func closeComponents() {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			stdout.Printf("Unable to close %T: %s\n", closers[i], err)
		}
	}
	closers = nil
}
