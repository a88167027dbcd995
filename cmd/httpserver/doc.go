// Package main (cmd/httpserver) serves a tiered storage stack over HTTP.
//
// The stack is described by a YAML file (see package config) listing provider
// URIs in tier order together with their blacklists. Environment variables
// prefixed with TIERSTORE_ override the fill settings. Every provider is
// instrumented with Prometheus metrics served on --metrics-addr.
//
// The server implements graceful shutdown on SIGINT/SIGTERM, closes the
// storage temp-file registry and any provider clients on exit, and supports
// health checks, draining and optional profiling endpoints.
//
// Example:
//
//	tiered-storage-server --config=stack.yaml \
//	    --listen-addr=0.0.0.0:8080 \
//	    --metrics-addr=0.0.0.0:8090
//
// with stack.yaml:
//
//	autoFillBack: true
//	autoFillForward: true
//	providers:
//	  - uri: ristretto://hot?maxCost=268435456
//	  - uri: redis://localhost:6379/0?prefix=tier:
//	  - uri: file:///var/lib/tiered-storage
//	    writeBlacklist: ["glob:*.tmp"]
//	  - uri: s3://archive/objects?region=eu-west-1
package main
