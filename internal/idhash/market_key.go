package idhash

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// marketKeyPrefix distinguishes derived market keys from bare symbols.
const marketKeyPrefix = "mk-"

// marketKeyBytes is the hash prefix length encoded into the key. 10 bytes of
// SHA256 keep keys short while leaving collisions out of practical reach.
const marketKeyBytes = 10

// ComputeMarketKey derives a stable market key from a symbol.
// Formula: "mk-" + base58(SHA256(symbol)[:10])
//
// Registration is idempotent: the same symbol always derives the same key.
// Externally assigned keys (e.g. from an exchange registry) are accepted
// as-is by the identity resolver; this derivation is the fallback when a
// resolution event carries no key.
func ComputeMarketKey(symbol string) string {
	hash := sha256.Sum256([]byte(symbol))
	return marketKeyPrefix + base58.Encode(hash[:marketKeyBytes])
}
