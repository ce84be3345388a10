// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package contentstore

import (
	"fmt"
	"strings"

	gocid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// URIScheme prefixes identifiers in metadata URIs.
const URIScheme = "ipfs://"

// rawPrefix describes every CID this package produces: CIDv1, raw codec,
// full-length sha2-256.
var rawPrefix = gocid.Prefix{
	Version:  1,
	Codec:    gocid.Raw,
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

// CID returns the CIDv1 of data in its default base32 form.
func CID(data []byte) string {
	c, err := rawPrefix.Sum(data)
	if err != nil {
		// sha2-256 is always registered with go-multihash
		panic(fmt.Sprintf("contentstore: cannot hash content: %v", err))
	}
	return c.String()
}

// ParseCID decodes s and checks that it is a raw sha2-256 CIDv1.
func ParseCID(s string) (gocid.Cid, error) {
	c, err := gocid.Decode(s)
	if err != nil {
		return gocid.Undef, fmt.Errorf("cid %q: %w", s, err)
	}
	p := c.Prefix()
	if p.Version != 1 || p.Codec != gocid.Raw || p.MhType != mh.SHA2_256 {
		return gocid.Undef, fmt.Errorf("cid %q: not a raw sha2-256 CIDv1", s)
	}
	return c, nil
}

// URI renders a CID as an ipfs:// URI.
func URI(cid string) string {
	return URIScheme + cid
}

// CIDFromURI strips the ipfs:// scheme.
func CIDFromURI(uri string) (string, bool) {
	return strings.CutPrefix(uri, URIScheme)
}

// verify checks fetched bytes against the identifier they were stored under.
func verify(id string, data []byte) error {
	want, err := ParseCID(id)
	if err != nil {
		return err
	}
	got, err := want.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("cannot hash content under %s: %w", id, err)
	}
	if !got.Equals(want) {
		return fmt.Errorf("content under %s does not match its identifier", id)
	}
	return nil
}
