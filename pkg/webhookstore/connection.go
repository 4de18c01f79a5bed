// Package webhookstore implements the engine.WebhookRepo and
// engine.WebhookEventRepo interfaces against PostgreSQL.
package webhookstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ConnectionConfig mirrors the primary/replica pool configuration a
// webhook-delivery deployment needs.
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConnectionManager holds a primary (read-write) pool and zero or more
// read-replica pools, selected round-robin for read-only queries. It is
// trimmed to the primary/replica split this module actually needs: no
// health-check routine or runtime replica add/remove, since the webhook
// store is not expected to run against a replica topology that changes
// at runtime.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32
	mu       sync.RWMutex
}

// NewConnectionManager opens and pings the primary, then opens and pings
// each replica; a replica that fails to connect is skipped, not fatal.
func NewConnectionManager(cfg ConnectionConfig) (*ConnectionManager, error) {
	primary, err := sql.Open("postgres", cfg.PrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("webhookstore: open primary: %w", err)
	}
	primary.SetMaxOpenConns(cfg.MaxConns)
	primary.SetMaxIdleConns(cfg.MinConns)
	primary.SetConnMaxLifetime(cfg.MaxLifetime)
	primary.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := primary.PingContext(ctx); err != nil {
		primary.Close()
		return nil, fmt.Errorf("webhookstore: ping primary: %w", err)
	}

	cm := &ConnectionManager{primary: primary}

	for _, url := range cfg.ReplicaURLs {
		replica, err := sql.Open("postgres", url)
		if err != nil {
			continue
		}
		replica.SetMaxOpenConns(maxInt(cfg.MaxConns/2, 2))
		replica.SetMaxIdleConns(cfg.MinConns)
		replica.SetConnMaxLifetime(cfg.MaxLifetime)
		replica.SetConnMaxIdleTime(cfg.MaxIdleTime)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.Timeout)
		err = replica.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			replica.Close()
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	return cm, nil
}

// Primary returns the read-write connection pool.
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica by round-robin, falling back to the
// primary when no replica is configured.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	n := len(cm.replicas)
	cm.mu.RUnlock()
	if n == 0 {
		return cm.primary
	}

	idx := int(atomic.AddUint32(&cm.current, 1) % uint32(n))
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.replicas[idx]
}

// Close closes the primary and every replica pool.
func (cm *ConnectionManager) Close() error {
	var errs []string
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("primary: %v", err))
	}
	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()
	for i, r := range replicas {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("replica-%d: %v", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("webhookstore: close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseReplicaURLs splits a comma-separated replica URL list from config.
func ParseReplicaURLs(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
