package biz

import (
	"github.com/calderhq/tiergate/internal/store"
)

// AbstractService carries the persistence handle shared by every service.
type AbstractService struct {
	store store.TenantStore
}

// Store exposes the underlying tenant store, mainly for tests.
func (a *AbstractService) Store() store.TenantStore {
	return a.store
}
