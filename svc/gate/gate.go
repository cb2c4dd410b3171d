// Package gate chains the per-submission defenses in a fixed order and
// decides the initial moderation status of whatever survives. The chain
// fails fast: the cheapest checks run first and the first denial wins.
package gate

import (
	"context"
	"time"

	"checkpost/metrics"
	"checkpost/pkg/domain"
	"checkpost/svc/geo"
	"checkpost/svc/lim"
	"checkpost/svc/util"
)

// Request carries the submission signals the gatekeeper inspects. The
// gatekeeper never sees file contents; archives are screened separately
// after the gate passes.
type Request struct {
	IP       string
	Content  string
	Nickname string
	Honeypot string
	IssuedAt string
	HasMedia bool
	Email    string
	QQ       string
	URL      string
}

// Decision is the initial moderation outcome for an admitted submission.
type Decision struct {
	Status domain.Status
	Reason string
}

type blockStore interface {
	Contains(id string) bool
}

type regionClassifier interface {
	Classify(addr string) string
}

type rateLimiter interface {
	Admit(identifier string, kind lim.Kind) lim.Result
}

type dupDetector interface {
	Check(content string) bool
}

type contentScanner interface {
	ScanText(text string) error
	ScanNickname(name string) error
	MatchesBotNickname(name string) bool
}

type Gatekeeper struct {
	blocklist blockStore
	region    regionClassifier
	limiter   rateLimiter
	dedup     dupDetector
	scanner   contentScanner
	fp        *util.Fingerprinter

	blockedRegions map[string]struct{}
	minFill        time.Duration
	maxAge         time.Duration

	now func() time.Time
}

type Deps struct {
	Blocklist blockStore
	Region    regionClassifier
	Limiter   rateLimiter
	Dedup     dupDetector
	Scanner   contentScanner
	FP        *util.Fingerprinter
}

func New(d Deps, blockedRegions []string, minFill, maxAge time.Duration) *Gatekeeper {
	regions := make(map[string]struct{}, len(blockedRegions))
	for _, r := range blockedRegions {
		regions[r] = struct{}{}
	}
	return &Gatekeeper{
		blocklist:      d.Blocklist,
		region:         d.Region,
		limiter:        d.Limiter,
		dedup:          d.Dedup,
		scanner:        d.Scanner,
		fp:             d.FP,
		blockedRegions: regions,
		minFill:        minFill,
		maxAge:         maxAge,
		now:            time.Now,
	}
}

// Check runs the defense chain. The returned error, when non-nil, is a
// *domain.Err whose status code classifies the denial; nil means the
// submission may proceed to content handling and persistence.
func (g *Gatekeeper) Check(ctx context.Context, req Request) error {
	identity := g.fp.Identity(req.IP)

	if g.blocklist.Contains(identity) {
		metrics.SubmissionsRejected.WithLabelValues("blocklist").Inc()
		return domain.ErrBlocklisted
	}

	region := g.region.Classify(req.IP)
	if region != geo.RegionLocal {
		if _, blocked := g.blockedRegions[region]; blocked {
			metrics.SubmissionsRejected.WithLabelValues("region").Inc()
			util.Debug().Str("ip", util.RedactIP(req.IP)).Str("region", region).Msg("submission from blocked region")
			return domain.ErrRegionBlocked
		}
	}

	if res := g.limiter.Admit(identity, lim.KindWrite); !res.Allowed {
		metrics.SubmissionsRejected.WithLabelValues("rate_limit").Inc()
		return domain.ErrRateLimited
	}

	if err := CheckHoneypot(req.Honeypot, req.IssuedAt, g.minFill, g.maxAge, g.now()); err != nil {
		metrics.SubmissionsRejected.WithLabelValues("honeypot").Inc()
		return err
	}

	if !g.dedup.Check(req.Content) {
		metrics.SubmissionsRejected.WithLabelValues("duplicate").Inc()
		return domain.ErrDuplicateContent
	}

	if err := g.scanner.ScanText(req.Content); err != nil {
		metrics.SubmissionsRejected.WithLabelValues("content_scan").Inc()
		return err
	}
	if req.Nickname != "" {
		if err := g.scanner.ScanNickname(req.Nickname); err != nil {
			metrics.SubmissionsRejected.WithLabelValues("nickname_scan").Inc()
			return err
		}
	}

	return nil
}

// Decide produces the initial moderation status for an admitted
// submission. Contact details, text-only posts and bot-template
// nicknames all route through human review; everything else publishes
// immediately.
func (g *Gatekeeper) Decide(req Request) Decision {
	switch {
	case req.Email != "" || req.QQ != "" || req.URL != "":
		return Decision{Status: domain.StatusPending, Reason: "contact details provided"}
	case !req.HasMedia:
		return Decision{Status: domain.StatusPending, Reason: "no media attached"}
	case req.Nickname != "" && g.scanner.MatchesBotNickname(req.Nickname):
		return Decision{Status: domain.StatusPending, Reason: "nickname matches automation template"}
	default:
		return Decision{Status: domain.StatusApproved}
	}
}
