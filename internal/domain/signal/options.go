package signal

import "time"

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithFieldMap registers a source-specific field map.
func WithFieldMap(sourceID string, fm FieldMap) Option {
	return func(n *Normalizer) {
		n.fieldMaps[sourceID] = fm
	}
}

// WithDefaultFieldMap replaces the map used for sources without their own.
func WithDefaultFieldMap(fm FieldMap) Option {
	return func(n *Normalizer) {
		n.defaultMap = fm
	}
}

// WithClock sets the time source used when a payload carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}
