package sqlstore

import "github.com/goliatone/go-relay/core"

var (
	_ core.RegistryStore          = (*RegistryStore)(nil)
	_ core.RegistryStore          = (*CachedRegistryStore)(nil)
	_ core.SnapshotStore          = (*SnapshotStore)(nil)
	_ core.SnapshotStore          = (*purgingSnapshotStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
