// Package cache provides a typed, expiring document cache on top of a
// docstore.Store.
//
// The repository stores each value in an envelope carrying its type tag, keys
// and optional expiration. Expiration is lazy: reads treat expired entries as
// absent and delete them in the background.
//
// - Deterministic identifiers (<namespace>:<type>:<key>[:<subkey>])
// - Specific entries discriminated by a sub-key
// - Optional revision-checked writes (RevisionChecked)
// - Namespace-wide Clear and periodic PurgeExpired
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	type Car struct {
//		cache.Doc
//		Maker string `json:"maker"`
//	}
//
//	func (*Car) CacheType() string { return "car" }
//
//	repo, err := cache.New(store, cache.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer repo.Close()
//
//	// Store for five minutes
//	err = cache.Set(ctx, repo, Car{Maker: "Volvo"}, "k2", 5*time.Minute)
//
//	// Read back; ok is false when absent or expired
//	car, ok, err := cache.Get[Car](ctx, repo, "k2")
//
// # Specific Entries
//
//	// Several variants under one primary key
//	err = cache.SetSpecific(ctx, repo, car, "k3", "sub1", 0)
//	car, ok, err = cache.GetSpecific[Car](ctx, repo, "k3", "sub1")
//
//	// An empty sub-key selects the type's default sub-key
//	err = cache.SetSpecific(ctx, repo, car, "k3", "", 0)
//
// # Maintenance
//
//	count, err := cache.GetDocCount[Car](ctx, repo)
//	res, err := repo.PurgeExpired(ctx)
//	err = repo.Clear(ctx)
//
// # Metrics
//
// The repository exports Prometheus metrics:
//
//   - doccache_hits_total{type} - Live entries returned
//   - doccache_misses_total{type} - Absent or expired reads
//   - doccache_expired_total{type} - Expired entries observed on read
//   - doccache_writes_total{type} - Committed writes
//   - doccache_entry_size_bytes{type} - Serialized entry size
//   - doccache_errors_total{operation} - Failed operations
//   - doccache_lazy_deletes_total{result} - Background deletes of expired entries
//   - doccache_clear_deleted_total - Entries removed by Clear
//   - doccache_sweep_purged_total - Entries removed by PurgeExpired
package cache
