package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpost_submissions_published_total",
		Help: "no. of submissions accepted and published immediately",
	})
	SubmissionsPending = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpost_submissions_pending_total",
		Help: "no. of submissions held for human review",
	})
	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpost_submissions_rejected_total",
			Help: "no. of submissions rejected by the gatekeeper",
		},
		[]string{"reason"},
	)
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpost_rate_limit_hits_total",
		Help: "no. of rate limit denials",
	})
	TempBans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpost_temp_bans_total",
		Help: "no. of temporary bans issued by the rate limiter",
	})
	ArchivesValidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpost_archives_validated_total",
		Help: "no. of archives that passed validation",
	})
	ArchivesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpost_archives_rejected_total",
			Help: "no. of archives rejected by the validator",
		},
		[]string{"reason"},
	)
	ThumbnailFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpost_thumbnail_failures_total",
		Help: "no. of archive entries skipped due to decode failure",
	})
	KeywordReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpost_keyword_reloads_total",
		Help: "no. of spam keyword list reloads",
	})
	BlocklistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkpost_blocklist_entries",
		Help: "current no. of blocklist entries in memory",
	})
	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpost_moderation_actions_total",
			Help: "no. of admin moderation actions",
		},
		[]string{"action"},
	)
)

func Init() {
}
