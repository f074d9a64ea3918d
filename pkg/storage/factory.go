package storage

import (
	"fmt"

	"github.com/wardendns/warden/pkg/config"
)

// New builds a Storage backend from cfg.Driver, mirroring 
// factory.go driver switch.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "memory":
		return newMemoryStorage(), nil
	case "sqlite":
		return newSQLiteStorage(cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
