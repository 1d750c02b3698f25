package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// RarTool describes one external command tried when the native RAR reader
// fails. Args may contain the placeholders {archive}, {dest} and {globs};
// {globs} expands to one argument per image pattern.
type RarTool struct {
	Name      string   `koanf:"name"`
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	ProbeArgs []string `koanf:"probe_args"`
}

type Config struct {
	CacheDir                  string        `koanf:"cache_dir" validate:"required"`
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path" validate:"required"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`
	CoverThumbnailWidth       int           `koanf:"cover_thumbnail_width" default:"400"`
	JobLeaseTimeout           time.Duration `koanf:"job_lease_timeout" default:"30s"`
	JobPollInterval           time.Duration `koanf:"job_poll_interval" default:"5s"`
	MaxEntrySizeBytes         int64         `koanf:"max_entry_size_bytes" default:"268435456"`
	PageWorkersMax            int           `koanf:"page_workers_max" default:"15"`
	PageWorkersMin            int           `koanf:"page_workers_min" default:"10"`
	PrefetchWorkers           int           `koanf:"prefetch_workers" default:"2"`
	RarExtractTimeout         time.Duration `koanf:"rar_extract_timeout" default:"5m"`
	RarNative                 bool          `koanf:"rar_native" default:"true"`
	RarProbeTimeout           time.Duration `koanf:"rar_probe_timeout" default:"5s"`
	RarTools                  []RarTool     `koanf:"rar_tools"`
	SevenZip                  bool          `koanf:"seven_zip" default:"true"`
	ThumbnailMaxWidth         int           `koanf:"thumbnail_max_width" default:"280"`
	ThumbnailQuality          int           `koanf:"thumbnail_quality" default:"85"`
	WorkerProcesses           int           `koanf:"worker_processes" default:"2"`
}

const defaultConfigFile = "/config/tankobon.yaml"

// DefaultRarTools is the fallback chain used when the config doesn't list any.
func DefaultRarTools() []RarTool {
	return []RarTool{
		{
			Name:      "unrar",
			Command:   "unrar",
			Args:      []string{"x", "-o+", "-y", "-inul", "{archive}", "{globs}", "{dest}/"},
			ProbeArgs: []string{"-?"},
		},
		{
			Name:      "7z",
			Command:   "7z",
			Args:      []string{"x", "-y", "-bd", "-o{dest}", "{archive}", "{globs}", "-r"},
			ProbeArgs: []string{"i"},
		},
		{
			Name:      "unar",
			Command:   "unar",
			Args:      []string{"-q", "-f", "-D", "-o", "{dest}", "{archive}"},
			ProbeArgs: []string{"-v"},
		},
	}
}

// New loads configuration from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables (DATABASE_FILE_PATH etc.).
func New() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = defaultConfigFile
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	keys := configKeys()
	err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := keys[key]; !ok {
			return ""
		}
		return key
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.WithStack(err)
	}

	if len(cfg.RarTools) == 0 {
		cfg.RarTools = DefaultRarTools()
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewForTest returns a config suitable for unit tests: in-memory database,
// temp cache dir, and no external RAR tools.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.DatabaseFilePath = ":memory:"
	cfg.CacheDir = os.TempDir()
	cfg.DatabaseConnectRetryDelay = 10 * time.Millisecond
	cfg.WorkerProcesses = 1
	cfg.RarTools = []RarTool{}
	return cfg
}

func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.WithStack(err)
	}

	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := toSnakeCase(fe.StructField())
		missing = append(missing, strings.ToUpper(key)+" ("+key+")")
	}
	return errors.Errorf("missing required config: %s", strings.Join(missing, ", "))
}

// configKeys returns the scalar koanf keys that may be set from the
// environment. List-valued settings only come from the config file.
func configKeys() map[string]struct{} {
	keys := map[string]struct{}{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Type.Kind() == reflect.Slice {
			continue
		}
		keys[toSnakeCase(t.Field(i).Name)] = struct{}{}
	}
	return keys
}

func toSnakeCase(s string) string {
	return strcase.ToSnake(s)
}
