// Package index parses CASC index shards (.idx files) into a single table
// mapping truncated encoded keys to their location in the data archives.
//
// Storage is split into 16 buckets, each with its own shard file, all sharing
// one key namespace. Shards are parsed independently and merged in bucket
// order; when two shards carry the same key the first one wins.
package index
