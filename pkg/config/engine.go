package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/webhookrelay/internal/engine"
)

// EngineConfig is the delivery engine's own configuration surface, loaded
// from a TOML file that EngineConfigWatcher reloads via fsnotify. It is kept
// separate from Config (the HTTP/storage/observability surface loaded from
// the environment). A reload updates the watcher's Current() value; the
// running engine keeps the config it was started with until a restart.
type EngineConfig struct {
	// ErrorSlidingCapacity bounds how many undelivered ErrorRecords each
	// ErrorBus subscriber queue holds before the oldest is dropped.
	ErrorSlidingCapacity int `toml:"error_sliding_capacity"`

	Retry RetryConfig `toml:"retry"`

	// BatchingCapacity is the bound on each BatchKey's pending-event queue.
	// Zero disables the Batcher entirely.
	BatchingCapacity int `toml:"batching_capacity"`

	// MaxSingleDispatchConcurrency bounds concurrent Single-mode POSTs, both
	// in the Batcher and in RetryDispatcher.
	MaxSingleDispatchConcurrency int `toml:"max_single_dispatch_concurrency"`

	// NewRetriesCapacity sizes the Lifecycle's internal newRetries channel.
	NewRetriesCapacity int `toml:"new_retries_capacity"`

	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig configures the per-webhook token bucket consulted by the
// Deliverer before any dispatch leaves the process. A zero MaxRequests
// disables rate limiting entirely.
type RateLimitConfig struct {
	MaxRequests int           `toml:"max_requests"`
	Period      time.Duration `toml:"period"`
}

// RetryConfig mirrors engine.RetryConfig with TOML tags. It is converted via
// ToEngine rather than embedding engine.RetryConfig directly so that this
// package's wire format stays decoupled from the engine's internal type.
type RetryConfig struct {
	Capacity          int           `toml:"capacity"`
	ExponentialBase   time.Duration `toml:"exponential_base"`
	ExponentialFactor float64       `toml:"exponential_factor"`
	MaxBackoff        time.Duration `toml:"max_backoff"`
	Timeout           time.Duration `toml:"timeout"`
}

// ToEngine converts to the engine package's own RetryConfig.
func (r RetryConfig) ToEngine() engine.RetryConfig {
	return engine.RetryConfig{
		Capacity:          r.Capacity,
		ExponentialBase:   r.ExponentialBase,
		ExponentialFactor: r.ExponentialFactor,
		MaxBackoff:        r.MaxBackoff,
		Timeout:           r.Timeout,
	}
}

// DefaultEngineConfig returns the engine configuration used when no TOML
// file is present.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ErrorSlidingCapacity: 256,
		Retry: RetryConfig{
			Capacity:          64,
			ExponentialBase:   time.Second,
			ExponentialFactor: 2.0,
			MaxBackoff:        15 * time.Minute,
			Timeout:           30 * time.Second,
		},
		BatchingCapacity:             0,
		MaxSingleDispatchConcurrency: 8,
		NewRetriesCapacity:           64,
		RateLimit: RateLimitConfig{
			MaxRequests: 20,
			Period:      time.Second,
		},
	}
}

// LoadEngineConfig loads the engine configuration from a TOML file, applying
// DefaultEngineConfig first so a partial file only overrides what it names.
// An empty path returns the defaults untouched.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return EngineConfig{}, fmt.Errorf("stat engine config %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("decode engine config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, fmt.Errorf("engine config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the recognized fields for internal consistency.
func (c EngineConfig) Validate() error {
	if c.ErrorSlidingCapacity <= 0 {
		return fmt.Errorf("error_sliding_capacity must be greater than 0")
	}
	if c.Retry.Capacity <= 0 {
		return fmt.Errorf("retry.capacity must be greater than 0")
	}
	if c.Retry.ExponentialBase <= 0 {
		return fmt.Errorf("retry.exponential_base must be greater than 0")
	}
	if c.Retry.ExponentialFactor < 1.0 {
		return fmt.Errorf("retry.exponential_factor must be >= 1.0")
	}
	if c.Retry.MaxBackoff <= 0 {
		return fmt.Errorf("retry.max_backoff must be greater than 0")
	}
	if c.Retry.MaxBackoff < c.Retry.ExponentialBase {
		return fmt.Errorf("retry.max_backoff must be >= retry.exponential_base")
	}
	if c.Retry.Timeout <= 0 {
		return fmt.Errorf("retry.timeout must be greater than 0")
	}
	if c.BatchingCapacity < 0 {
		return fmt.Errorf("batching_capacity must not be negative")
	}
	if c.MaxSingleDispatchConcurrency <= 0 {
		return fmt.Errorf("max_single_dispatch_concurrency must be greater than 0")
	}
	if c.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("rate_limit.max_requests must not be negative")
	}
	if c.RateLimit.MaxRequests > 0 && c.RateLimit.Period <= 0 {
		return fmt.Errorf("rate_limit.period must be greater than 0 when rate_limit.max_requests is set")
	}
	return nil
}

// EngineConfigWatcher hot-reloads EngineConfig from its backing TOML file on
// every write, handing each reload attempt's result, failed ones included,
// to onReload. It
// watches a single config file rather than a directory tree, and keeps the
// last-good config behind a mutex rather than driving a work queue.
type EngineConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(EngineConfig, error)

	mu      sync.RWMutex
	current EngineConfig

	done chan struct{}
}

// NewEngineConfigWatcher loads path once, then begins watching it for
// changes. onReload, if non-nil, is invoked after every subsequent reload
// attempt (including failed ones, so the caller can log and keep running on
// the last-good config).
func NewEngineConfigWatcher(path string, onReload func(EngineConfig, error)) (*EngineConfigWatcher, error) {
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		return nil, err
	}

	w := &EngineConfigWatcher{
		path:     path,
		onReload: onReload,
		current:  cfg,
		done:     make(chan struct{}),
	}

	if path == "" {
		close(w.done)
		return w, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config file %s: %w", path, err)
	}
	w.watcher = watcher

	go w.run()
	return w, nil
}

func (w *EngineConfigWatcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadEngineConfig(w.path)
			if err == nil {
				w.mu.Lock()
				w.current = cfg
				w.mu.Unlock()
			}
			if w.onReload != nil {
				w.onReload(cfg, err)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Current returns the most recently loaded valid configuration.
func (w *EngineConfigWatcher) Current() EngineConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching and releases the underlying file handle.
func (w *EngineConfigWatcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}
