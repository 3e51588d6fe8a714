// Package tasks runs the listening-history pipeline with real-time progress reporting.
//
// # Core Operations
//
// The [Engine] interface defines three operations:
//
//  1. [Engine.Sync] : pull recently played tracks into the store
//     - Reads plays after the later of the lookback window and the watermark
//     - Fetches primary artist details for genres
//     - Transforms items into play, track, artist and genre records
//     - Loads them in one transaction, dropping anything at or before the watermark
//
//  2. [Engine.Enrich] : classify every pending ISRC
//     - Resolves each ISRC to the first listed MBID, or records it as failed
//     - Fetches features for each candidate MBID, or records it as invalid
//     - Loads feature records and both negative caches in one transaction
//
//  3. [Engine.Run] : Sync followed by Enrich
//
// # Outcomes
//
// Resolver and fetcher stages return an [ItemOutcome] per key: resolved, negative (cached, never retried)
// or skipped (retried next run). Rate limiting, an open circuit or a cancelled context stops the stage
// and fails the run without loading its partial results.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
//
// # Implementation
//
// [PipelineEngine] implements [Engine] with dependencies on:
//   - [Extractor] : streaming-service history reader
//   - [Resolver] and [FeatureFetcher] : lookup and feature API clients
//   - [Store], [Loader] and [RunRecorder] : persistence (repositories package)
//   - [Observer] : optional metrics sink
package tasks
