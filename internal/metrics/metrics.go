package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailoutbox_emails_total",
			Help: "Outbox emails lifecycle counter by stage",
		},
		[]string{"stage"}, // queued|claimed|sent|retrying|failed|rolled_back
	)

	ClaimRacesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailoutbox_claim_races_total",
			Help: "Claims lost to a concurrent worker",
		},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailoutbox_batch_duration_seconds",
			Help:    "Duration of one processDueBatch run",
			Buckets: prometheus.DefBuckets,
		},
	)

	TicksSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailoutbox_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running",
		},
	)

	IntakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailoutbox_intake_total",
			Help: "Kafka intake messages by result",
		},
		[]string{"result"}, // queued|skipped|retried
	)
)

const (
	StageQueued     = "queued"
	StageClaimed    = "claimed"
	StageSent       = "sent"
	StageRetrying   = "retrying"
	StageFailed     = "failed"
	StageRolledBack = "rolled_back"
)

var once sync.Once

// MustRegister registers the collectors once; later calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	once.Do(func() {
		r.MustRegister(
			EmailsTotal,
			ClaimRacesTotal,
			BatchDuration,
			TicksSkippedTotal,
			IntakeTotal,
		)
	})
}
