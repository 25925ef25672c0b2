// Package config binds the service's environment-variable surface to
// a typed Config, using viper for env lookup (with type coercion and
// defaults) the way cmd/root.go binds pyroscope's flags.
//
// Unlike cmd/root.go, the variable names here don't share a uniform
// prefix (SYMBOL_URLS, DISKCACHE_ROOT, ...), so each is bound
// individually with viper.BindEnv rather than relying on
// SetEnvPrefix+AutomaticEnv alone.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved runtime configuration for the
// symbolication service, assembled from environment variables.
type Config struct {
	ListenAddr string

	SymbolURLs []string

	DiskCacheRoot      string
	DiskCacheMaxBytes  int64
	DiskCacheWarmScan  bool
	NegativeCacheTTL   time.Duration

	DownloaderTimeoutMS int
	DownloaderRetries   int

	SymbolicateMaxJobs       int
	SymbolicateRequestDeadlineMS int
	MaxConcurrentModules     int

	StatsDHost string
	StatsDPort int

	LogLevel string
}

// New reads environment variables into a Config, applying the
// reference service's documented defaults where a variable is unset.
func New() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	bind(v, "listen_addr", ":8000")
	bind(v, "symbol_urls", "")
	bind(v, "diskcache_root", "/var/cache/eliot")
	bind(v, "diskcache_max_bytes", int64(20<<30)) // 20 GiB
	bind(v, "diskcache_warm_scan", true)
	bind(v, "diskcache_negative_ttl_ms", int64(24*time.Hour/time.Millisecond))
	bind(v, "downloader_timeout_ms", 10_000)
	bind(v, "downloader_retries", 3)
	bind(v, "symbolicate_max_jobs", 10)
	bind(v, "symbolicate_request_deadline_ms", 60_000)
	bind(v, "max_concurrent_modules", 8)
	bind(v, "statsd_host", "127.0.0.1")
	bind(v, "statsd_port", 8125)
	bind(v, "log_level", "info")

	urls := splitNonEmpty(v.GetString("symbol_urls"))
	if len(urls) == 0 {
		return nil, fmt.Errorf("config: SYMBOL_URLS must list at least one source")
	}

	cfg := &Config{
		ListenAddr: v.GetString("listen_addr"),
		SymbolURLs: urls,

		DiskCacheRoot:     v.GetString("diskcache_root"),
		DiskCacheMaxBytes: v.GetInt64("diskcache_max_bytes"),
		DiskCacheWarmScan: v.GetBool("diskcache_warm_scan"),
		NegativeCacheTTL:  time.Duration(v.GetInt64("diskcache_negative_ttl_ms")) * time.Millisecond,

		DownloaderTimeoutMS: v.GetInt("downloader_timeout_ms"),
		DownloaderRetries:   v.GetInt("downloader_retries"),

		SymbolicateMaxJobs:           v.GetInt("symbolicate_max_jobs"),
		SymbolicateRequestDeadlineMS: v.GetInt("symbolicate_request_deadline_ms"),
		MaxConcurrentModules:         v.GetInt("max_concurrent_modules"),

		StatsDHost: v.GetString("statsd_host"),
		StatsDPort: v.GetInt("statsd_port"),

		LogLevel: v.GetString("log_level"),
	}
	return cfg, nil
}

// bind registers key against its matching upper-cased env var
// (SYMBOL_URLS for "symbol_urls") with a default value.
func bind(v *viper.Viper, key string, def interface{}) {
	_ = v.BindEnv(key, strings.ToUpper(key))
	v.SetDefault(key, def)
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
