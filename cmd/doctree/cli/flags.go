package cli

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jnovack/flag"

	"github.com/tus/doctree/internal/grouped_flags"
	"github.com/tus/doctree/pkg/hooks"
)

// EnvPrefix is prepended to the environment variables which can be used
// instead of flags, e.g. DOCTREE_BASE_PATH for -base-path.
const EnvPrefix = "DOCTREE"

var Flags struct {
	HttpHost     string
	HttpPort     string
	HttpSock     string
	EnableH2C    bool
	Basepath     string
	ShowGreeting bool

	Provider         string
	DirStrict        bool
	S3Endpoint       string
	S3PathStyle      bool
	S3LogAPICalls    bool
	GCSCredentials   string
	AzAccountName    string
	AzBlobAccessTier string
	AzEndpoint       string

	Settings         string
	SettingsName     string
	GrantKey         string
	SettingsDir      string
	SettingsDatabase string
	RedisURI         string
	RedisKeyPrefix   string

	Locker                       string
	FilelockDir                  string
	FilelockHolderPollInterval   time.Duration
	FilelockAcquirerPollInterval time.Duration

	Picker string

	EnabledHooksString string
	EnabledHooks       []hooks.HookType
	FileHooksDir       string
	HttpHooksEndpoint  string
	HttpHooksHeaders   string
	HttpHooksRetry     int
	HttpHooksBackoff   time.Duration
	HttpHooksTimeout   time.Duration
	HttpHooksSizeLimit int64
	PluginHookPath     string

	MaxReadSize    int64
	RateLimit      float64
	RateLimitBurst int

	ExposeMetrics         bool
	MetricsPath           string
	ExposePprof           bool
	PprofPath             string
	PprofBlockProfileRate int
	PprofMutexProfileRate int
	ShowVersion           bool
	VerboseOutput         bool
	ShowStartupLogs       bool
	LogFormat             string

	NetworkTimeout     time.Duration
	SelectionTimeout   time.Duration
	AcquireLockTimeout time.Duration
	ShutdownTimeout    time.Duration
}

func ParseFlags() error {
	return parseFlags(nil)
}

// parseFlags parses args, or the command line if args is nil.
func parseFlags(args []string) error {
	fs := grouped_flags.NewFlagGroupSetWithEnvPrefix(EnvPrefix, flag.ContinueOnError)

	fs.AddGroup("Listening options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.HttpHost, "host", "127.0.0.1", "Host to bind HTTP server to")
		f.StringVar(&Flags.HttpPort, "port", "8080", "Port to bind HTTP server to")
		f.StringVar(&Flags.HttpSock, "unix-sock", "", "If set, will listen to a UNIX socket at this location instead of a TCP socket")
		f.StringVar(&Flags.Basepath, "base-path", "/doctree/", "Basepath of the bridge routes")
		f.BoolVar(&Flags.EnableH2C, "enable-h2c", false, "Allow for HTTP/2 cleartext (h2c) connections (non-encrypted)")
		f.BoolVar(&Flags.ShowGreeting, "show-greeting", true, "Show the greeting message for GET requests to the root path")
	})

	fs.AddGroup("Document provider options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.Provider, "provider", "dir", "Document provider opening the granted trees (dir, s3, gcs or azure)")
		f.BoolVar(&Flags.DirStrict, "dir-strict", false, "Only open local directories for which a permission has been taken in this process")
		f.StringVar(&Flags.S3Endpoint, "s3-endpoint", "", "Endpoint to use S3 compatible implementations like minio. Credentials are taken from the default AWS credential chain.")
		f.BoolVar(&Flags.S3PathStyle, "s3-path-style", false, "Address buckets using path-style URLs instead of virtual hosts")
		f.BoolVar(&Flags.S3LogAPICalls, "s3-log-api-calls", false, "Log all calls to the S3 API at debug level (requires -verbose)")
		f.StringVar(&Flags.GCSCredentials, "gcs-credentials-file", "", "Service account file for Google Cloud Storage. Without it, the default credentials of the environment are used.")
		f.StringVar(&Flags.AzAccountName, "azure-account", "", "Azure storage account name. The key is read from the AZURE_STORAGE_KEY environment variable, if set.")
		f.StringVar(&Flags.AzBlobAccessTier, "azure-blob-access-tier", "", "Blob access tier when writing entries (possible values: archive, cool, hot, '')")
		f.StringVar(&Flags.AzEndpoint, "azure-endpoint", "", "Custom endpoint to use for Azure Blob Storage")
	})

	fs.AddGroup("Settings options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.Settings, "settings", "file", "Store used to persist the grant (memory, file, sqlite or redis)")
		f.StringVar(&Flags.SettingsName, "settings-name", "docTreeAccess", "Settings namespace in which the grant is stored")
		f.StringVar(&Flags.GrantKey, "grant-key", "folder_uri", "Settings key under which the grant is stored")
		f.StringVar(&Flags.SettingsDir, "settings-dir", "./settings", "Directory for the YAML settings files")
		f.StringVar(&Flags.SettingsDatabase, "settings-database", "./doctree.db", "Path of the SQLite settings database")
		f.StringVar(&Flags.RedisURI, "redis-uri", "", "Redis URI used by the redis settings store and locker (e.g. redis://localhost:6379/0)")
		f.StringVar(&Flags.RedisKeyPrefix, "redis-key-prefix", "doctree:", "Prefix for all keys written to Redis")
	})

	fs.AddGroup("Locking options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.Locker, "locker", "memory", "Locker serialising selections and entry writes (memory, file or redis)")
		f.StringVar(&Flags.FilelockDir, "filelock-dir", "./locks", "Directory to store the lock files in")
		f.DurationVar(&Flags.FilelockHolderPollInterval, "filelock-holder-poll-interval", 5*time.Second, "The holder of a lock polls regularly to see if another process needs the lock. This flag specifies the poll interval.")
		f.DurationVar(&Flags.FilelockAcquirerPollInterval, "filelock-acquirer-poll-interval", 2*time.Second, "The acquirer of a lock polls regularly to see if the lock has been released. This flag specifies the poll interval.")
	})

	fs.AddGroup("Picker options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.Picker, "picker", "remote", "Folder picker (terminal or remote). The remote picker waits for a UI host answering through the /selection routes.")
	})

	fs.AddGroup("Bridge options", func(f *flag.FlagSet) {
		f.Int64Var(&Flags.MaxReadSize, "max-read-size", 0, "Maximum size of an entry returned by readEntry in bytes. A zero value disables the limit.")
		f.Float64Var(&Flags.RateLimit, "rate-limit", 0, "Maximum number of bridge requests per second. A zero value disables the limit.")
		f.IntVar(&Flags.RateLimitBurst, "rate-limit-burst", 20, "Number of requests allowed to exceed -rate-limit in a burst")
	})

	fs.AddGroup("General hook options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.EnabledHooksString, "hooks-enabled-events", "pre-write,post-write,post-delete,post-grant", "Comma separated list of enabled hook events (e.g. post-write,post-grant). Leave empty to enable all events")
	})

	fs.AddGroup("File hook options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.FileHooksDir, "hooks-dir", "", "Directory to search for available hooks scripts")
	})

	fs.AddGroup("HTTP hook options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.HttpHooksEndpoint, "hooks-http", "", "An HTTP endpoint to which hook events will be sent to")
		f.StringVar(&Flags.HttpHooksHeaders, "hooks-http-headers", "", "Comma separated list of Name=Value headers added to every hook request")
		f.IntVar(&Flags.HttpHooksRetry, "hooks-http-retry", 3, "Number of times to retry on a 500 or network timeout")
		f.DurationVar(&Flags.HttpHooksBackoff, "hooks-http-backoff", 1*time.Second, "Wait period before retrying each retry")
		f.DurationVar(&Flags.HttpHooksTimeout, "hooks-http-timeout", 30*time.Second, "Timeout for a single hook request")
		f.Int64Var(&Flags.HttpHooksSizeLimit, "hooks-http-size-limit", 64*1024, "Maximum size of a hook response body in bytes")
	})

	fs.AddGroup("Plugin hook options", func(f *flag.FlagSet) {
		f.StringVar(&Flags.PluginHookPath, "hooks-plugin", "", "Path to a go-plugin binary implementing the hook handler")
	})

	fs.AddGroup("Monitoring, profiling, logging options", func(f *flag.FlagSet) {
		f.BoolVar(&Flags.ExposeMetrics, "expose-metrics", true, "Expose metrics about doctree usage")
		f.StringVar(&Flags.MetricsPath, "metrics-path", "/metrics", "Path under which the metrics endpoint will be accessible")
		f.BoolVar(&Flags.ExposePprof, "expose-pprof", false, "Expose the pprof interface over HTTP for profiling doctree")
		f.StringVar(&Flags.PprofPath, "pprof-path", "/debug/pprof/", "Path under which the pprof endpoint will be accessible")
		f.IntVar(&Flags.PprofBlockProfileRate, "pprof-block-profile-rate", 0, "Fraction of goroutine blocking events that are reported in the blocking profile")
		f.IntVar(&Flags.PprofMutexProfileRate, "pprof-mutex-profile-rate", 0, "Fraction of mutex contention events that are reported in the mutex profile")
		f.BoolVar(&Flags.ShowVersion, "version", false, "Print doctree version information")
		f.BoolVar(&Flags.VerboseOutput, "verbose", false, "Enable debug logging output")
		f.BoolVar(&Flags.ShowStartupLogs, "show-startup-logs", true, "Print details about doctree's configuration during startup")
		f.StringVar(&Flags.LogFormat, "log-format", "text", "Logging format (text or json)")
	})

	fs.AddGroup("Timeout options", func(f *flag.FlagSet) {
		f.DurationVar(&Flags.NetworkTimeout, "network-timeout", 0, "Timeout for reading the request and writing the response. requestFolderAccess blocks until the user made a choice, so keep this above the selection timeout. A zero value disables it.")
		f.DurationVar(&Flags.SelectionTimeout, "selection-timeout", 5*time.Minute, "Time the user has to answer a folder selection. A negative value waits forever.")
		f.DurationVar(&Flags.AcquireLockTimeout, "acquire-lock-timeout", 20*time.Second, "Timeout for an operation to wait for a lock, e.g. while another folder selection is outstanding.")
		f.DurationVar(&Flags.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "Timeout for closing connections gracefully during shutdown. After the timeout, doctree will exit regardless of any open connection.")
	})

	var err error
	if args == nil {
		err = fs.Parse()
	} else {
		err = fs.ParseArgs(args)
	}
	if err != nil {
		return err
	}

	if err := SetEnabledHooks(); err != nil {
		return err
	}

	if Flags.FileHooksDir != "" {
		Flags.FileHooksDir, _ = filepath.Abs(Flags.FileHooksDir)
	}

	return SetupStructuredLogger()
}

func SetEnabledHooks() error {
	Flags.EnabledHooks = nil

	if Flags.EnabledHooksString != "" {
		for _, h := range strings.Split(Flags.EnabledHooksString, ",") {
			typ := hooks.HookType(strings.TrimSpace(h))
			if !slices.Contains(hooks.AvailableHooks, typ) {
				return fmt.Errorf("unknown hook event type in -hooks-enabled-events flag: %s", typ)
			}

			Flags.EnabledHooks = append(Flags.EnabledHooks, typ)
		}
	}

	if len(Flags.EnabledHooks) == 0 {
		Flags.EnabledHooks = hooks.AvailableHooks
	}

	return nil
}

// parseHeaders splits a list like "Authorization=Bearer x,X-App=doctree".
func parseHeaders(list string) (map[string]string, error) {
	headers := make(map[string]string)
	if strings.TrimSpace(list) == "" {
		return headers, nil
	}

	for _, pair := range strings.Split(list, ",") {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q in -hooks-http-headers flag, expected Name=Value", pair)
		}
		headers[name] = strings.TrimSpace(value)
	}

	return headers, nil
}
