// Package interfaces defines the contracts shared by the tiered storage
// packages, separating interface definitions from implementations.
//
// # Storage Interfaces
//
// Provider: a single storage backend (filesystem, S3, memcached, ...) together
// with its per-key read/write access policy.
//
// ProviderFactory: creates providers from location URIs.
//
// Matcher: a compiled blacklist rule evaluated against normalized keys.
//
// # Errors
//
// ErrNotFound marks a soft miss. Every other error returned by a provider is a
// backend fault and aborts the storage operation that triggered it.
package interfaces
