package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jmgilman/go/errors"
	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreS3     = "s3"
)

type Config struct {
	Env           string        `env:"ENV" envDefault:"development"`
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":8080"`
	OriginBaseURL string        `env:"ORIGIN_BASE_URL"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	// DownstreamPurgeURL, when set, receives a PURGE for every refreshed path.
	DownstreamPurgeURL string `env:"DOWNSTREAM_PURGE_URL"`

	// CacheVersion names the current generation. Bump it on every release
	// that changes pre-cached assets.
	CacheVersion string   `env:"CACHE_VERSION" envDefault:"eng-quiz-v4.1"`
	Manifest     []string `env:"MANIFEST" envSeparator:"," envDefault:"/,/index.html,/style.css,/script.js,/icon.png"`

	Store      string `env:"STORE" envDefault:"memory"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"engquiz-cache.db"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX" envDefault:"engquiz"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	LockTTLSeconds     int    `env:"LOCK_TTL_SECONDS" envDefault:"45"`
	MaxLockWaitSeconds int    `env:"MAX_LOCK_WAIT_SECONDS" envDefault:"3"`

	CurriculumPath string `env:"CURRICULUM_PATH"`
}

// Load reads ENGQUIZ_* variables, after merging a .env file from the working
// directory when one exists. Real environment variables win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse(env.Options{Prefix: "ENGQUIZ_"})
}

func Parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, errors.Wrap(err, errors.CodeInvalidConfig, "parse env")
	}
	cfg.Manifest = trimAll(cfg.Manifest)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.OriginBaseURL == "" {
		return errors.New(errors.CodeInvalidConfig, "ENGQUIZ_ORIGIN_BASE_URL is required")
	}
	if strings.TrimSpace(c.CacheVersion) == "" {
		return errors.New(errors.CodeInvalidConfig, "ENGQUIZ_CACHE_VERSION must not be empty")
	}
	if len(c.Manifest) == 0 {
		return errors.New(errors.CodeInvalidConfig, "ENGQUIZ_MANIFEST must list at least one asset")
	}

	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New(errors.CodeInvalidConfig, "ENGQUIZ_SQLITE_PATH is required for the sqlite store")
		}
	case StoreS3:
		if c.S3Endpoint == "" || c.S3Bucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return errors.New(errors.CodeInvalidConfig, "S3 endpoint/bucket/access/secret are required")
		}
	default:
		return errors.Newf(errors.CodeInvalidConfig, "unknown store %q", c.Store)
	}
	return nil
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c Config) MaxLockWait() time.Duration {
	return time.Duration(c.MaxLockWaitSeconds) * time.Second
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
