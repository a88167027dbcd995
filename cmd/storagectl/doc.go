// Package main (cmd/storagectl) is a command line client for the tiered
// storage object API.
//
// Example usage:
//
//	storagectl --server-addr=http://127.0.0.1:8080 set reports/q1.csv --file=q1.csv --ttl=24h
//	storagectl get reports/q1.csv --out=q1-copy.csv
//	storagectl exists reports/q1.csv
//	storagectl info reports/q1.csv
//	storagectl delete reports/q1.csv
package main
