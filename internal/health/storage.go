package health

import (
	"context"
	"fmt"
)

// Pinger is an object store that can confirm its bucket is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageChecker implements health checking for panorama object storage.
type StorageChecker struct {
	store Pinger
}

// NewStorageChecker creates a storage health checker.
func NewStorageChecker(store Pinger) *StorageChecker {
	return &StorageChecker{store: store}
}

// HealthCheck confirms the bucket is reachable with the configured credentials.
func (s *StorageChecker) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("object storage unreachable: %w", err)
	}
	return nil
}
