package scan

import "chain-anomaly-watch/internal/domain"

// ResolveRange returns the inclusive range [head-window, head], clamped at
// block zero.
func ResolveRange(head, window uint64) domain.BlockRange {
	start := uint64(0)
	if head > window {
		start = head - window
	}
	return domain.BlockRange{Start: start, End: head}
}
