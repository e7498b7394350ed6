//go:build integration

// Package containers starts shared testcontainers for integration suites.
// Containers live for the whole test binary; Ryuk removes them afterwards.
package containers

import "sync"

// Manager hands out one container per backend, started lazily.
type Manager struct {
	redisOnce sync.Once
	redis     *RedisContainer
	redisErr  error

	postgresOnce sync.Once
	postgres     *PostgresContainer
	postgresErr  error

	redpandaOnce sync.Once
	redpanda     *RedpandaContainer
	redpandaErr  error
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the process-wide manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}
