// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package contentstore publishes byte blobs under content identifiers.
//
// Identifiers are CIDv1 strings (raw codec, sha2-256 multihash, base32
// lower-case with the "b" multibase prefix), so they can be recomputed by
// anyone holding the bytes and resolved through IPFS gateways once pinned.
// Put is idempotent: the same bytes always land under the same key.
//
// Backends:
//
//	db      the application database, the default
//	memory  process-local map, for tests
//	badger  embedded badger/v4 database in a local directory
//	s3      AWS S3 bucket, location "bucket[/prefix]"
//	gcs     Google Cloud Storage bucket, location "bucket[/prefix]"
package contentstore
