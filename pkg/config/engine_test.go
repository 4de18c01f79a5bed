package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultEngineConfig_Valid(t *testing.T) {
	if err := DefaultEngineConfig().Validate(); err != nil {
		t.Fatalf("DefaultEngineConfig() should validate, got: %v", err)
	}
}

func TestLoadEngineConfig_MissingPath(t *testing.T) {
	cfg, err := LoadEngineConfig("")
	if err != nil {
		t.Fatalf("LoadEngineConfig(\"\") error = %v", err)
	}
	if cfg != DefaultEngineConfig() {
		t.Fatalf("LoadEngineConfig(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadEngineConfig_NonExistentFile(t *testing.T) {
	cfg, err := LoadEngineConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("LoadEngineConfig() error = %v", err)
	}
	if cfg != DefaultEngineConfig() {
		t.Fatalf("LoadEngineConfig() = %+v, want defaults", cfg)
	}
}

func TestLoadEngineConfig_PartialFileOverridesDefaults(t *testing.T) {
	path := writeEngineConfigFile(t, `
batching_capacity = 128

[retry]
capacity = 200
max_backoff = "5m"

[rate_limit]
max_requests = 50
period = "1m"
`)

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("LoadEngineConfig() error = %v", err)
	}
	if cfg.BatchingCapacity != 128 {
		t.Errorf("BatchingCapacity = %d, want 128", cfg.BatchingCapacity)
	}
	if cfg.Retry.Capacity != 200 {
		t.Errorf("Retry.Capacity = %d, want 200", cfg.Retry.Capacity)
	}
	if cfg.Retry.MaxBackoff != 5*time.Minute {
		t.Errorf("Retry.MaxBackoff = %v, want 5m", cfg.Retry.MaxBackoff)
	}
	if cfg.RateLimit.MaxRequests != 50 {
		t.Errorf("RateLimit.MaxRequests = %d, want 50", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Period != time.Minute {
		t.Errorf("RateLimit.Period = %v, want 1m", cfg.RateLimit.Period)
	}
	// Untouched fields keep their defaults.
	if cfg.Retry.ExponentialFactor != DefaultEngineConfig().Retry.ExponentialFactor {
		t.Errorf("Retry.ExponentialFactor = %v, want default", cfg.Retry.ExponentialFactor)
	}
	if cfg.ErrorSlidingCapacity != DefaultEngineConfig().ErrorSlidingCapacity {
		t.Errorf("ErrorSlidingCapacity = %v, want default", cfg.ErrorSlidingCapacity)
	}
}

func TestLoadEngineConfig_InvalidFileFailsValidation(t *testing.T) {
	path := writeEngineConfigFile(t, `
[retry]
capacity = 0
`)

	if _, err := LoadEngineConfig(path); err == nil {
		t.Fatal("expected validation error for zero retry.capacity")
	}
}

func TestEngineConfig_Validate(t *testing.T) {
	base := DefaultEngineConfig()

	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr bool
	}{
		{"valid defaults", func(c *EngineConfig) {}, false},
		{"zero error sliding capacity", func(c *EngineConfig) { c.ErrorSlidingCapacity = 0 }, true},
		{"zero retry capacity", func(c *EngineConfig) { c.Retry.Capacity = 0 }, true},
		{"zero exponential base", func(c *EngineConfig) { c.Retry.ExponentialBase = 0 }, true},
		{"exponential factor below 1.0", func(c *EngineConfig) { c.Retry.ExponentialFactor = 0.5 }, true},
		{"max backoff below base", func(c *EngineConfig) {
			c.Retry.ExponentialBase = time.Minute
			c.Retry.MaxBackoff = time.Second
		}, true},
		{"zero timeout", func(c *EngineConfig) { c.Retry.Timeout = 0 }, true},
		{"negative batching capacity", func(c *EngineConfig) { c.BatchingCapacity = -1 }, true},
		{"zero max single dispatch concurrency", func(c *EngineConfig) { c.MaxSingleDispatchConcurrency = 0 }, true},
		{"negative rate limit max requests", func(c *EngineConfig) { c.RateLimit.MaxRequests = -1 }, true},
		{"rate limit enabled with zero period", func(c *EngineConfig) {
			c.RateLimit.MaxRequests = 10
			c.RateLimit.Period = 0
		}, true},
		{"rate limit disabled ignores zero period", func(c *EngineConfig) {
			c.RateLimit.MaxRequests = 0
			c.RateLimit.Period = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryConfig_ToEngine(t *testing.T) {
	rc := RetryConfig{
		Capacity:          10,
		ExponentialBase:   time.Second,
		ExponentialFactor: 2.5,
		MaxBackoff:        time.Hour,
		Timeout:           5 * time.Second,
	}
	eng := rc.ToEngine()
	if eng.Capacity != rc.Capacity || eng.ExponentialBase != rc.ExponentialBase ||
		eng.ExponentialFactor != rc.ExponentialFactor || eng.MaxBackoff != rc.MaxBackoff ||
		eng.Timeout != rc.Timeout {
		t.Errorf("ToEngine() = %+v, want fields copied from %+v", eng, rc)
	}
}

func TestEngineConfigWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeEngineConfigFile(t, `
batching_capacity = 10
`)

	reloaded := make(chan EngineConfig, 4)
	w, err := NewEngineConfigWatcher(path, func(cfg EngineConfig, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})
	if err != nil {
		t.Fatalf("NewEngineConfigWatcher() error = %v", err)
	}
	defer w.Close()

	if got := w.Current().BatchingCapacity; got != 10 {
		t.Fatalf("Current().BatchingCapacity = %d, want 10", got)
	}

	if err := os.WriteFile(path, []byte("batching_capacity = 99\n"), 0o644); err != nil {
		t.Fatalf("rewrite config file: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.BatchingCapacity != 99 {
			t.Fatalf("reloaded BatchingCapacity = %d, want 99", cfg.BatchingCapacity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	waitForCurrent(t, w, 99)
}

func TestEngineConfigWatcher_InvalidReloadKeepsLastGood(t *testing.T) {
	path := writeEngineConfigFile(t, `
batching_capacity = 10
`)

	errs := make(chan error, 4)
	w, err := NewEngineConfigWatcher(path, func(cfg EngineConfig, err error) {
		if err != nil {
			errs <- err
		}
	})
	if err != nil {
		t.Fatalf("NewEngineConfigWatcher() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[retry]\ncapacity = 0\n"), 0o644); err != nil {
		t.Fatalf("rewrite config file: %v", err)
	}

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failed reload notification")
	}

	if got := w.Current().BatchingCapacity; got != 10 {
		t.Fatalf("Current().BatchingCapacity = %d after failed reload, want unchanged 10", got)
	}
}

func writeEngineConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func waitForCurrent(t *testing.T, w *EngineConfigWatcher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().BatchingCapacity == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Current().BatchingCapacity never reached %d", want)
}
