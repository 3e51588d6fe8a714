// Package models defines the per-record schema of the listening-history store.
//
// The package contains two categories of types:
//
// 1. History entities, written by the sync pipeline
//   - [PlayEvent] : one play, keyed by its timestamp
//   - [Track] : song metadata, with an optional ISRC used for enrichment
//   - [Artist] : primary artist of a track
//   - [Genre] : (artist, genre) membership
//
// 2. Enrichment entities, written by the enrichment pipeline
//   - [EnrichmentRecord] : positive cache, an ISRC resolved to an MBID with audio features
//   - [FailedISRC] : negative cache, an ISRC that resolved to no MBID
//   - [InvalidMBID] : negative cache, an MBID with no feature data
//
// [SyncRun] records the outcome of one pipeline invocation.
//
// All rows are append-only. Nothing in the store is updated or deleted once written.
package models
