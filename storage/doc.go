// Package storage provides a tiered key-value store over pluggable providers.
//
// A Storage holds an ordered stack of providers. Reads walk the stack and
// return the first hit; writes fan out to every provider allowed to take the
// key:
//
//   - File system storage for durable local tiers
//   - S3-compatible object storage
//   - Memcached, Redis, BigCache and Ristretto for cache tiers
//   - bbolt for an embedded single-file tier
//   - Vault KV v2 for secrets
//   - IPFS mutable file system
//
// # Fill
//
// When a read hits provider i, the value is copied to the read-allowed
// providers before i that missed (backfill) and to the providers after i that
// do not already hold it (forward-fill). Both directions can be switched off
// and individual keys can be excluded with BlacklistFill. Fill only writes to
// providers whose policy allows writing the key.
//
// # Access policy
//
// Every provider embeds an AccessPolicy with three blacklists: one blocking
// all access, one blocking reads and one blocking writes and deletes.
// Blacklists are built from Matchers:
//
//	p.WriteBlacklist(storage.Glob("tmp/*"))
//	p.ReadBlacklist(storage.MustRegexp(`^private/`))
//
// # Provider URI Format
//
// Providers are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/tiered/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - memcache://cache1:11211,cache2
//   - redis://localhost:6379/0?prefix=tiered:
//   - bigcache://hot?lifeWindow=10m
//   - ristretto://hot?maxCost=67108864
//   - bolt:///var/lib/tiered/data.db
//   - vault://vault.example.com:8200/secret/tiered
//   - ipfs://localhost:5001/tiered
//
// # Usage Example
//
//	factory := storage.NewProviderFactory(logger)
//	defer factory.Close()
//
//	cache, _ := factory.ProviderForURI("bigcache://hot")
//	disk, _ := factory.ProviderForURI("file:///var/lib/tiered")
//
//	s := storage.New(logger)
//	defer s.Close()
//	s.AddProvider(cache)
//	s.AddProvider(disk)
//
//	ok, err := s.Set(ctx, "configs/app.json", data, 0)
//	value, err := s.Get(ctx, "configs/app.json")
package storage
