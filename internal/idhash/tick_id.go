package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTickID computes a deterministic tick id using SHA256.
// Formula: SHA256(origin_key|timestamp|price|size|side)
// Returns hex-encoded hash (64 characters).
//
// The origin key is the identifier the producer submitted (market key or bare
// symbol), so the id survives later re-tagging of the row's market_key.
// Redelivery of the same logical tick hashes to the same id and is
// deduplicated at the raw store.
func ComputeTickID(
	originKey string,
	timestamp int64,
	price float64,
	size float64,
	side string,
) string {
	data := fmt.Sprintf("%s|%d|%g|%g|%s",
		originKey,
		timestamp,
		price,
		size,
		side,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
