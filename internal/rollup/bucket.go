package rollup

import "market-rollup/internal/domain"

// BucketStart returns the start of the timeframe bucket containing ts.
// Alignment: floor(ts / tf_ms) * tf_ms, UTC-anchored, no DST adjustment.
func BucketStart(ts int64, tf domain.Timeframe) int64 {
	ms := tf.Millis()
	return (ts / ms) * ms
}

// BucketEnd returns the exclusive end of the bucket containing ts.
func BucketEnd(ts int64, tf domain.Timeframe) int64 {
	return BucketStart(ts, tf) + tf.Millis()
}
