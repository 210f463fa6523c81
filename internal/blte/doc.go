// Package blte decodes BLTE containers, the chunked and optionally
// per-chunk compressed wrapper around every blob stored in a CASC archive.
//
// A container starts with the magic "BLTE" and a big-endian header size.
// A header size of zero denotes a legacy container holding a single chunk
// that spans the rest of the blob. Otherwise the header carries a chunk
// table of (compressed size, decompressed size, checksum) triples and the
// chunk payloads follow it back to back. Each payload begins with a single
// encoding-mode byte:
//
//   - 'N' raw bytes
//   - 'Z' a zlib stream
//   - 'E' encrypted (not supported)
//   - 'F' a nested BLTE container (not supported)
//
// [Reader] decodes lazily: it only consumes as many chunks as callers have
// asked for, and raw chunks are copied through incrementally so large
// uncompressed payloads never need to be materialized in one read.
package blte
