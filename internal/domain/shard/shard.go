// Package shard defines time-bucket derivation for the shard store.
//
// A shard covers the half-open range [Start, Start+Width). Bucket starts are
// derived by fixed-width flooring so that writes and shard-level operations
// always agree on the covering bucket.
package shard

// DefaultWidth is the bucket width in seconds when none is configured.
const DefaultWidth int64 = 100

// Bucketer derives shard bucket keys from timestamps.
type Bucketer struct {
	width int64
}

// NewBucketer creates a bucketer with the given width in seconds.
// Non-positive widths fall back to DefaultWidth.
func NewBucketer(width int64) Bucketer {
	if width <= 0 {
		width = DefaultWidth
	}
	return Bucketer{width: width}
}

// Width returns the bucket width in seconds.
func (b Bucketer) Width() int64 { return b.width }

// BucketStart floors a timestamp to the start of its covering bucket.
func (b Bucketer) BucketStart(timestamp int64) int64 {
	if timestamp < 0 {
		// Floor toward negative infinity so ranges stay contiguous.
		return ((timestamp - b.width + 1) / b.width) * b.width
	}
	return (timestamp / b.width) * b.width
}

// Range returns the [start, end) range of the bucket covering timestamp.
func (b Bucketer) Range(timestamp int64) (start, end int64) {
	start = b.BucketStart(timestamp)
	return start, start + b.width
}

// Info describes one shard for enumeration.
type Info struct {
	StartTimestamp int64 `json:"startTimestamp"`
	EndTimestamp   int64 `json:"endTimestamp"`

	// Detailed fields, populated only when requested.
	DocumentCount *int `json:"documentCount,omitempty"`
	TokenCount    *int `json:"tokenCount,omitempty"`
	Tombstones    *int `json:"tombstones,omitempty"`
}
