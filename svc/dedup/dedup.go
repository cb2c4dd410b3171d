// Package dedup rejects resubmission of identical content inside a short
// window. Fingerprints live in a bounded, TTL-expiring cache; the cache
// is process-local and acceptable to lose on restart.
package dedup

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"checkpost/svc/util"
)

type Detector struct {
	cache  *expirable.LRU[string, time.Time]
	window time.Duration
	fp     *util.Fingerprinter
	now    func() time.Time
}

func New(size int, window time.Duration, fp *util.Fingerprinter) *Detector {
	return NewWithClock(size, window, fp, time.Now)
}

func NewWithClock(size int, window time.Duration, fp *util.Fingerprinter, now func() time.Time) *Detector {
	return &Detector{
		cache:  expirable.NewLRU[string, time.Time](size, nil, window),
		window: window,
		fp:     fp,
		now:    now,
	}
}

// Check returns false when the same trimmed content was seen inside the
// window, and records the fingerprint otherwise. The hash is blake2b-256,
// so a false cross-content denial is not a practical concern.
func (d *Detector) Check(content string) bool {
	hash := d.fp.Content(content)
	if seen, ok := d.cache.Get(hash); ok {
		// The cache expires entries on its own wall clock; re-check against
		// the injected clock so tests with a fake clock stay deterministic.
		if d.now().Sub(seen) < d.window {
			return false
		}
	}
	d.cache.Add(hash, d.now())
	return true
}

// Forget drops a fingerprint, letting the content through again. Used
// when a submission passes the gate but fails to persist.
func (d *Detector) Forget(content string) {
	d.cache.Remove(d.fp.Content(content))
}
