// Package mirador is an embedded similarity-search core for image
// embeddings. A Collection stores fixed-dimension float32 vectors, builds
// immutable index snapshots off the write path, and answers k-nearest-
// neighbor queries with deterministic ranking while inserts and deletes
// proceed concurrently.
//
// Collections are created through fluent builders:
//
//	col, err := mirador.Flat(128).Cosine().Build()
//
//	col, err := mirador.IVF(128).
//	    SquaredL2().
//	    Partitions(64).
//	    Probes(8).
//	    Build()
//
// Queries serve the latest committed snapshot; the consistency manager
// rebuilds it in the background when mutation-count or staleness thresholds
// are exceeded.
package mirador
