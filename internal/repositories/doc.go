// Package repositories implements SQLite persistence for the listening-history store.
//
// Key Implementations:
//   - [Loader] : transactional, dedup-aware merge of transformed batches
//   - [StoreRepository] : watermark, pending-ISRC and row-count queries
//   - [SyncRunRepository] : history of pipeline runs
//
// The [Loader] reads persisted keys and inserts the remainder inside the same transaction, so a batch loaded twice
// inserts nothing the second time. Play events are additionally filtered by a single global watermark, the latest
// persisted played_at: anything at or before it is dropped and never backfilled.
//
// Failed loads roll back every table and return a [LoadError] naming the table that failed.
package repositories
