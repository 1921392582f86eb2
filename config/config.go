// Package config loads the tunable knobs valtron and simplehttp expose:
// pool sizing, idle-manager backoff constants, worker count, request
// timeouts, redirect limits and chunk buffer sizes, plus the original
// demo server's own port/timeout settings. Defaults come from flags;
// Manager (manager.go) layers VALTRON_-prefixed env vars and an
// optional JSON file on top, and can re-apply the JSON layer later via
// Reload so a long-running caller picks up new knobs without a
// restart.
package config

import (
	"flag"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         int    `config:"port"`
	ReadTimeout  int    `config:"read.timeout"`
	WriteTimeout int    `config:"write.timeout"`
	Env          string `config:"env"`

	// Workers is the number of OS-thread workers a Multi executor runs.
	// Zero lets the caller default it to GOMAXPROCS.
	Workers int `config:"workers"`

	// PoolPerHostMax and PoolGlobalMax cap how many idle connections
	// simplehttp/pool.Pool keeps per host and in total; PoolIdleTTL
	// bounds how long an idle entry may sit before Checkout evicts it.
	PoolPerHostMax int           `config:"pool.per.host.max"`
	PoolGlobalMax  int           `config:"pool.global.max"`
	PoolIdleTTL    time.Duration `config:"pool.idle.ttl"`

	// IdleMaxTicks is IdleMan's max_idle: the number of consecutive
	// no-work ticks before it starts consulting the backoff decider
	// instead of returning BaseSleep. BaseSleep is that short sleep.
	IdleMaxTicks int           `config:"idle.max.ticks"`
	BaseSleep    time.Duration `config:"base.sleep"`

	// BackoffFactor/BackoffJitter/BackoffMin/BackoffMax configure the
	// exponential-backoff decider shared by IdleMan's SleepyMan and
	// simplehttp/retry's ReconnectingStream. BackoffMaxRetries has no
	// config tag, so Manager.Unmarshal looks it up under its lower-cased
	// field name, "backoffmaxretries". Being a uint64, it is outside
	// setFieldValue's signed-integer case: a JSON number still converts,
	// but a string value (such as an env var's) makes Unmarshal fail.
	BackoffFactor     float64       `config:"backoff.factor"`
	BackoffJitter     float64       `config:"backoff.jitter"`
	BackoffMin        time.Duration `config:"backoff.min"`
	BackoffMax        time.Duration `config:"backoff.max"`
	BackoffMaxRetries uint64

	// ConnectTimeout bounds how long a RequestTask waits for a single
	// dial attempt; MaxRedirects bounds ClientRequest.Send's
	// follow-redirect loop; ChunkBufferSize sizes the scratch buffer
	// the wire reader uses per chunk.
	ConnectTimeout  time.Duration `config:"connect.timeout"`
	MaxRedirects    int           `config:"max.redirects"`
	ChunkBufferSize int           `config:"chunk.buffer.size"`

	mgr        *Manager
	configFile string
}

// envPrefix is the prefix Manager.LoadFromEnv strips before folding
// environment variables into overlay keys (VALTRON_MAX_REDIRECTS ->
// max.redirects).
const envPrefix = "VALTRON"

// New loads configuration from flags, then layers VALTRON_-prefixed
// env vars and an optional -config-file JSON file on top via a Manager.
func New() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.IntVar(&cfg.ReadTimeout, "read-timeout", 10, "HTTP read timeout (seconds)")
	flag.IntVar(&cfg.WriteTimeout, "write-timeout", 30, "HTTP write timeout (seconds)")
	flag.StringVar(&cfg.Env, "env", "development", "Environment (development/production)")

	flag.IntVar(&cfg.Workers, "workers", 0, "Multi executor worker count (0 = GOMAXPROCS)")
	flag.IntVar(&cfg.PoolPerHostMax, "pool-per-host-max", 8, "max idle connections kept per host")
	flag.IntVar(&cfg.PoolGlobalMax, "pool-global-max", 256, "max idle connections kept across all hosts")
	flag.DurationVar(&cfg.PoolIdleTTL, "pool-idle-ttl", 90*time.Second, "how long an idle pooled connection stays reusable")

	flag.IntVar(&cfg.IdleMaxTicks, "idle-max-ticks", 32, "consecutive idle scheduler ticks before backoff kicks in")
	flag.DurationVar(&cfg.BaseSleep, "base-sleep", time.Millisecond, "sleep duration for early idle ticks")

	flag.Float64Var(&cfg.BackoffFactor, "backoff-factor", 2.0, "exponential backoff growth factor")
	flag.Float64Var(&cfg.BackoffJitter, "backoff-jitter", 0.2, "backoff jitter fraction, 0..1")
	flag.DurationVar(&cfg.BackoffMin, "backoff-min", 50*time.Millisecond, "minimum backoff wait")
	flag.DurationVar(&cfg.BackoffMax, "backoff-max", 10*time.Second, "maximum backoff wait")
	var maxRetries int
	flag.IntVar(&maxRetries, "backoff-max-retries", 5, "max reconnect attempts before exhaustion")

	flag.DurationVar(&cfg.ConnectTimeout, "connect-timeout", 10*time.Second, "per-attempt TCP connect timeout")
	flag.IntVar(&cfg.MaxRedirects, "max-redirects", 10, "max redirects ClientRequest.Send follows")
	flag.IntVar(&cfg.ChunkBufferSize, "chunk-buffer-size", 32*1024, "scratch buffer size for reading one chunk")
	flag.StringVar(&cfg.configFile, "config-file", "", "optional JSON file of overrides, re-read by Reload")

	flag.Parse()
	cfg.BackoffMaxRetries = uint64(maxRetries)

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}

	cfg.mgr = NewManager()
	cfg.mgr.LoadFromEnv(envPrefix)
	if cfg.configFile != "" {
		if err := cfg.mgr.LoadFromJSON(cfg.configFile); err != nil {
			log.Printf("config: %v", err)
		}
	}
	if err := cfg.mgr.Unmarshal("", cfg); err != nil {
		log.Printf("config: applying overlay: %v", err)
	}

	return cfg
}

// Reload re-reads -config-file (a no-op if none was given) and folds
// its values back onto cfg. Every key in the file is set again, so a
// watcher registered via Watch fires for each of them, whether or not
// its value changed.
func (c *Config) Reload() error {
	if c.configFile == "" {
		return nil
	}
	if err := c.mgr.LoadFromJSON(c.configFile); err != nil {
		return err
	}
	return c.mgr.Unmarshal("", c)
}

// Watch registers callback to run, on its own goroutine, whenever key
// is set via Reload (or any direct Manager.Set on the same key), even
// if the value is unchanged.
func (c *Config) Watch(key string, callback func(string, interface{})) {
	c.mgr.Watch(key, callback)
}
