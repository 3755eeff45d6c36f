package rewriter

import (
	"github.com/maxpert/dbreplace/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Stats counts the failures the engine recovered from during a run
type Stats struct {
	DecodeFallbacks *xsync.Counter
	Degraded        *xsync.Counter
}

// Observer logs engine fallbacks and counts them. Safe for concurrent use.
type Observer struct {
	stats Stats
}

func NewObserver() *Observer {
	return &Observer{
		stats: Stats{
			DecodeFallbacks: xsync.NewCounter(),
			Degraded:        xsync.NewCounter(),
		},
	}
}

func (o *Observer) DecodeFallback(err error) {
	o.stats.DecodeFallbacks.Inc()
	telemetry.DecodeFallbacksTotal.Inc()
	log.Debug().Err(err).Msg("Serialized-looking value failed to decode, replaced as text")
}

func (o *Observer) Degraded(err error) {
	o.stats.Degraded.Inc()
	telemetry.DegradedSubtreesTotal.Inc()
	log.Warn().Err(err).Msg("Subtree left unchanged")
}

// Stats returns the live counters
func (o *Observer) Stats() Stats {
	return o.stats
}
