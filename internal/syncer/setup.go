package syncer

import (
	"fmt"

	"github.com/smarzola/dirsync/internal/events"
	"github.com/smarzola/dirsync/internal/mapping"
	"github.com/smarzola/dirsync/internal/resolver"
	"github.com/smarzola/dirsync/internal/store"
	"github.com/smarzola/dirsync/internal/vendor"
	"github.com/smarzola/dirsync/pkg/config"
)

// New wires a synchronizer for src that reads pages from pages and writes
// identities, account state and audit events to st. The Active Directory and
// FreeIPA hooks are always installed; each is a no-op for entries without
// its attributes.
func New(src *config.Source, pages PageSource, st store.Store) (*UserSynchronizer, error) {
	mapper, err := mapping.New(src.PropertyMappings)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}

	sink := events.NewStoreSink(st, src.Name)
	return NewUserSynchronizer(src, Deps{
		Pages:    pages,
		Mapper:   mapper,
		Resolver: resolver.New(st, src.Name, src.ObjectUniquenessField),
		Hooks:    vendor.NewChain(sink, vendor.Defaults(st)...),
		Sink:     sink,
	}), nil
}
