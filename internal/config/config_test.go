package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(vars map[string]string) (Config, error) {
	return Parse(env.Options{Prefix: "ENGQUIZ_", Environment: vars})
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parse(map[string]string{
		"ENGQUIZ_ORIGIN_BASE_URL": "http://origin.local",
	})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "eng-quiz-v4.1", cfg.CacheVersion)
	assert.Equal(t, []string{"/", "/index.html", "/style.css", "/script.js", "/icon.png"}, cfg.Manifest)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 45*time.Second, cfg.LockTTL())
	assert.Equal(t, 3*time.Second, cfg.MaxLockWait())
}

func TestParseOverrides(t *testing.T) {
	cfg, err := parse(map[string]string{
		"ENGQUIZ_ORIGIN_BASE_URL": "http://origin.local",
		"ENGQUIZ_CACHE_VERSION":   "eng-quiz-v5",
		"ENGQUIZ_MANIFEST":        " /index.html, /style.css ,,",
		"ENGQUIZ_STORE":           "sqlite",
		"ENGQUIZ_SQLITE_PATH":     "/var/lib/engquiz/cache.db",
		"ENGQUIZ_FETCH_TIMEOUT":   "3s",
	})
	require.NoError(t, err)

	assert.Equal(t, "eng-quiz-v5", cfg.CacheVersion)
	assert.Equal(t, []string{"/index.html", "/style.css"}, cfg.Manifest)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"missing origin": {},
		"unknown store": {
			"ENGQUIZ_ORIGIN_BASE_URL": "http://origin.local",
			"ENGQUIZ_STORE":           "disk",
		},
		"incomplete s3": {
			"ENGQUIZ_ORIGIN_BASE_URL": "http://origin.local",
			"ENGQUIZ_STORE":           "s3",
			"ENGQUIZ_S3_BUCKET":       "quiz",
		},
		"empty manifest": {
			"ENGQUIZ_ORIGIN_BASE_URL": "http://origin.local",
			"ENGQUIZ_MANIFEST":        " , ",
		},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parse(vars)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}
