package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainCache  = "dashopt/cache/v1"
	DomainBundle = "dashopt/bundle/v1"
)

// BundleHash identifies an exported bundle by content. data must be the
// canonical JSON rendering of the bundle.
func BundleHash(data []byte) string {
	return hashWithDomain(DomainBundle, data)
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// AtServer reports whether p runs at the server: its subtree contains no
// NetworkBoundary, so no data has crossed to the client yet.
func AtServer(p Plan) bool {
	return !ContainsNode(p, func(n Plan) bool {
		_, ok := n.(*NetworkBoundary)
		return ok
	})
}

// CacheSignature identifies what a cache holds and where. Two caches share
// a signature iff their inputs compute the same thing on the same side of
// the network. Static caches are prefixed "s_", dynamic ones "d_". ok is
// false when p is not a cache.
func CacheSignature(p Plan) (sig string, ok bool) {
	var prefix string
	switch p.(type) {
	case *StaticCache:
		prefix = "s_"
	case *DynamicCache:
		prefix = "d_"
	default:
		return "", false
	}
	flag := "0"
	if AtServer(p) {
		flag = "1"
	}
	sum := hashWithDomain(DomainCache, []byte(flag+FunctionalString(p)))
	return prefix + sum[:16], true
}

// IsStaticSignature reports whether sig names a static cache.
func IsStaticSignature(sig string) bool {
	return len(sig) > 2 && sig[:2] == "s_"
}
