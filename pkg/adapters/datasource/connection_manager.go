package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pgsql/pkg/logging"
	"github.com/ekaya-inc/ekaya-pgsql/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultMaxPools             = 32
	DefaultPoolMaxConns         = 10
	DefaultPoolMinConns         = 1
	// DefaultHealthCheckAfter is how long a pool may sit unused before it is
	// pinged again on retrieval.
	DefaultHealthCheckAfter = 30 * time.Second
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes   int
	MaxPools     int
	PoolMaxConns int32
	PoolMinConns int32
}

// PoolConfigurer adjusts a pool configuration before the pool is created.
type PoolConfigurer func(*pgxpool.Config)

// ConnectionManager keeps one pgx pool per distinct connection string, with
// TTL-based expiry and automatic cleanup.
type ConnectionManager struct {
	mu           sync.RWMutex
	pools        map[string]*managedPool // key: PoolKey(connString)
	ttl          time.Duration
	maxPools     int
	poolMaxConns int32
	poolMinConns int32
	stopped      bool
	stopChan     chan struct{}
	notices      *NoticeRouter
	logger       *zap.Logger
}

type managedPool struct {
	pool     *pgxpool.Pool
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = DefaultMaxPools
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &ConnectionManager{
		pools:        make(map[string]*managedPool),
		ttl:          time.Duration(cfg.TTLMinutes) * time.Minute,
		maxPools:     cfg.MaxPools,
		poolMaxConns: cfg.PoolMaxConns,
		poolMinConns: cfg.PoolMinConns,
		stopChan:     make(chan struct{}),
		notices:      NewNoticeRouter(),
		logger:       logger.Named("connections"),
	}

	go manager.cleanupExpiredPools()
	return manager
}

// Notices returns the router receiving the notices of every pooled
// connection.
func (m *ConnectionManager) Notices() *NoticeRouter {
	return m.notices
}

// PoolKey identifies the pool for a connection string without keeping the
// credentials it contains.
func PoolKey(connString string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(connString))
}

// GetOrCreatePool returns the pool for connString, creating it on first use.
// configure is applied to new pools only; pools are shared by every caller
// with the same connection string.
func (m *ConnectionManager) GetOrCreatePool(
	ctx context.Context,
	connString string,
	configure PoolConfigurer,
) (*pgxpool.Pool, error) {
	key := PoolKey(connString)

	m.mu.RLock()
	managed, exists := m.pools[key]
	stopped := m.stopped
	m.mu.RUnlock()

	if stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	if exists {
		managed.mu.Lock()

		if time.Since(managed.lastUsed) > DefaultHealthCheckAfter {
			healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
				return classifyConnError(managed.pool.Ping(healthCtx))
			})
			cancel()

			if err != nil {
				m.logger.Warn("pool unhealthy, recreating",
					zap.String("key", key),
					zap.String("error", logging.SanitizeError(err)),
				)
				managed.mu.Unlock()
				m.removePool(key)
				return m.createNewPool(ctx, key, connString, configure)
			}
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}

	return m.createNewPool(ctx, key, connString, configure)
}

// poolConfig parses connString and applies the manager's limits, its notice
// router and then configure.
func (m *ConnectionManager) poolConfig(connString string, configure PoolConfigurer) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = m.poolMaxConns
	poolConfig.MinConns = m.poolMinConns
	poolConfig.MaxConnIdleTime = m.ttl
	poolConfig.ConnConfig.OnNotice = m.notices.Handle
	if configure != nil {
		configure(poolConfig)
	}
	return poolConfig, nil
}

// createNewPool creates a new connection pool with retry logic.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) createNewPool(
	ctx context.Context,
	key string,
	connString string,
	configure PoolConfigurer,
) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Another goroutine may have created it while we waited for the lock.
	if managed, exists := m.pools[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.pool, nil
	}

	if len(m.pools) >= m.maxPools {
		m.logger.Warn("reached max pools limit",
			zap.Int("current", len(m.pools)),
			zap.Int("max", m.maxPools),
		)
		return nil, fmt.Errorf("maximum number of connection pools reached (%d)", m.maxPools)
	}

	poolConfig, err := m.poolConfig(connString, configure)
	if err != nil {
		m.logger.Error("failed to parse connection string",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		return pool, classifyConnError(err)
	})
	if err != nil {
		m.logger.Error("failed to create pool after retries",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to create pool %s after retries: %w", key, err)
	}

	m.pools[key] = &managedPool{
		pool:     pool,
		lastUsed: time.Now(),
	}

	m.logger.Info("created new connection pool",
		zap.String("key", key),
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int("totalPools", len(m.pools)),
	)

	return pool, nil
}

// removePool removes a pool from the manager and closes it.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) removePool(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.pools[key]; exists && managed != nil {
		if managed.pool != nil {
			managed.pool.Close()
		}
		delete(m.pools, key)
		m.logger.Debug("removed pool", zap.String("key", key))
	}
}

func (m *ConnectionManager) cleanupExpiredPools() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes pools that haven't been used within TTL.
// Lock ordering: manager lock, then pool lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expiredKeys []string

	for key, managed := range m.pools {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleTime := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idleTime > m.ttl {
			expiredKeys = append(expiredKeys, key)
			m.logger.Debug("marking pool for cleanup",
				zap.String("key", key),
				zap.Duration("idleTime", idleTime),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, key := range expiredKeys {
		if managed := m.pools[key]; managed != nil && managed.pool != nil {
			managed.pool.Close()
		}
		delete(m.pools, key)
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired pools",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.pools)),
		)
	}
}

// Close closes all pools and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.pools {
		if managed != nil && managed.pool != nil {
			managed.pool.Close()
		}
	}

	m.pools = make(map[string]*managedPool)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalPools: len(m.pools),
		MaxPools:   m.maxPools,
		TTLMinutes: int(m.ttl.Minutes()),
	}

	for _, managed := range m.pools {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		pool := managed.pool
		managed.mu.Unlock()

		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}
		if pool != nil {
			s := pool.Stat()
			stats.AcquiredConns += int(s.AcquiredConns())
			stats.IdleConns += int(s.IdleConns())
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalPools        int `json:"total_pools"`
	MaxPools          int `json:"max_pools"`
	TTLMinutes        int `json:"ttl_minutes"`
	AcquiredConns     int `json:"acquired_conns"`
	IdleConns         int `json:"idle_conns"`
	OldestIdleSeconds int `json:"oldest_idle_seconds"`
}

// classifyConnError marks failures no retry can fix as permanent:
// authentication (SQLSTATE class 28) and unknown database (3D000).
func classifyConnError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000") {
		return retry.Permanent(err)
	}
	return err
}
