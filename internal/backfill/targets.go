package backfill

import (
	"fmt"

	"market-rollup/internal/domain"
	"market-rollup/internal/storage"
)

// Backfill targets, named after the destination tables.
const (
	TargetCandles1m    = "candles_1m"
	TargetCandles5m    = "candles_5m"
	TargetCandles15m   = "candles_15m"
	TargetCandles30m   = "candles_30m"
	TargetCandles1h    = "candles_1h"
	TargetCandles4h    = "candles_4h"
	TargetCandles1d    = "candles_1d"
	TargetLatestValues = "latest_values"
)

// AllTargets returns every backfill target in run order: 1m first, since
// the higher timeframes cascade from it.
func AllTargets() []string {
	targets := make([]string, 0, len(domain.Timeframes())+1)
	for _, tf := range domain.Timeframes() {
		targets = append(targets, "candles_"+tf.String())
	}
	targets = append(targets, TargetLatestValues)
	return targets
}

// timeframeForTarget maps a candle target to its timeframe. Returns
// false for latest_values.
func timeframeForTarget(target string) (domain.Timeframe, bool) {
	for _, tf := range domain.Timeframes() {
		if target == "candles_"+tf.String() {
			return tf, true
		}
	}
	return 0, false
}

// normalizeTargets validates the requested targets and returns them in
// canonical run order, deduplicated. Empty means all.
func normalizeTargets(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return AllTargets(), nil
	}

	want := make(map[string]bool, len(requested))
	for _, target := range requested {
		known := false
		for _, t := range AllTargets() {
			if target == t {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: unknown backfill target %q", storage.ErrInvalidInput, target)
		}
		want[target] = true
	}

	ordered := make([]string, 0, len(want))
	for _, t := range AllTargets() {
		if want[t] {
			ordered = append(ordered, t)
		}
	}
	return ordered, nil
}
