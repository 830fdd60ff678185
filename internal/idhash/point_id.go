package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePointID computes a deterministic point id using SHA256.
// Formula: SHA256(market_key|series_key|timestamp|x|value|version)
// Returns hex-encoded hash (64 characters).
//
// Value is part of the identity: two writers racing on the same natural key
// and version with different values produce two distinct raw rows, so the
// dedup merge can resolve them deterministically. Exact redelivery of one
// row hashes to the same id and is deduplicated at the raw store.
func ComputePointID(
	marketKey string,
	seriesKey string,
	timestamp int64,
	x int64,
	value float64,
	version uint64,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%g|%d",
		marketKey,
		seriesKey,
		timestamp,
		x,
		value,
		version,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
