package gate

import (
	"context"
	"strconv"
	"testing"
	"time"

	"checkpost/pkg/domain"
	"checkpost/svc/lim"
	"checkpost/svc/util"
)

type fakeBlocklist struct{ blocked map[string]bool }

func (f *fakeBlocklist) Contains(id string) bool { return f.blocked[id] }

type fakeRegion struct{ region string }

func (f *fakeRegion) Classify(string) string { return f.region }

type fakeLimiter struct {
	allow bool
	calls int
}

func (f *fakeLimiter) Admit(string, lim.Kind) lim.Result {
	f.calls++
	return lim.Result{Allowed: f.allow}
}

type fakeDedup struct {
	fresh bool
	calls int
}

func (f *fakeDedup) Check(string) bool { f.calls++; return f.fresh }

type fakeScanner struct {
	textErr error
	nickErr error
	bot     bool
}

func (f *fakeScanner) ScanText(string) error         { return f.textErr }
func (f *fakeScanner) ScanNickname(string) error     { return f.nickErr }
func (f *fakeScanner) MatchesBotNickname(string) bool { return f.bot }

type fixture struct {
	blocklist *fakeBlocklist
	region    *fakeRegion
	limiter   *fakeLimiter
	dedup     *fakeDedup
	scanner   *fakeScanner
	gate      *Gatekeeper
	clock     time.Time
}

func newFixture() *fixture {
	f := &fixture{
		blocklist: &fakeBlocklist{blocked: map[string]bool{}},
		region:    &fakeRegion{region: "US"},
		limiter:   &fakeLimiter{allow: true},
		dedup:     &fakeDedup{fresh: true},
		scanner:   &fakeScanner{},
		clock:     time.Unix(1_700_000_000, 0),
	}
	f.gate = New(Deps{
		Blocklist: f.blocklist,
		Region:    f.region,
		Limiter:   f.limiter,
		Dedup:     f.dedup,
		Scanner:   f.scanner,
		FP:        util.NewFingerprinter(nil),
	}, []string{"CN"}, 3*time.Second, time.Hour)
	f.gate.now = func() time.Time { return f.clock }
	return f
}

func okRequest(f *fixture) Request {
	return Request{
		IP:       "203.0.113.7",
		Content:  "checked in",
		Nickname: "alice",
		IssuedAt: strconv.FormatInt(f.clock.Add(-10*time.Second).Unix(), 10),
		HasMedia: true,
	}
}

func TestCheckPasses(t *testing.T) {
	f := newFixture()
	if err := f.gate.Check(context.Background(), okRequest(f)); err != nil {
		t.Fatalf("Check = %v, want nil", err)
	}
}

func TestCheckBlocklisted(t *testing.T) {
	f := newFixture()
	identity := util.NewFingerprinter(nil).Identity("203.0.113.7")
	f.blocklist.blocked[identity] = true
	err := f.gate.Check(context.Background(), okRequest(f))
	if err != domain.ErrBlocklisted {
		t.Fatalf("Check = %v, want ErrBlocklisted", err)
	}
	// Blocklist denial happens before the rate limiter spends budget.
	if f.limiter.calls != 0 {
		t.Errorf("limiter consulted %d times for blocklisted client", f.limiter.calls)
	}
}

func TestCheckBlockedRegion(t *testing.T) {
	f := newFixture()
	f.region.region = "CN"
	if err := f.gate.Check(context.Background(), okRequest(f)); err != domain.ErrRegionBlocked {
		t.Fatalf("Check = %v, want ErrRegionBlocked", err)
	}
}

func TestCheckLocalRegionExempt(t *testing.T) {
	f := newFixture()
	f.region.region = "local"
	if err := f.gate.Check(context.Background(), okRequest(f)); err != nil {
		t.Fatalf("Check = %v, want nil for local client", err)
	}
}

func TestCheckRateLimited(t *testing.T) {
	f := newFixture()
	f.limiter.allow = false
	if err := f.gate.Check(context.Background(), okRequest(f)); err != domain.ErrRateLimited {
		t.Fatalf("Check = %v, want ErrRateLimited", err)
	}
	// Denial happens before the duplicate detector records the content.
	if f.dedup.calls != 0 {
		t.Errorf("dedup consulted %d times for rate-limited client", f.dedup.calls)
	}
}

func TestCheckHoneypotTripped(t *testing.T) {
	f := newFixture()
	req := okRequest(f)
	req.Honeypot = "gotcha"
	if err := f.gate.Check(context.Background(), req); err != domain.ErrBotDetected {
		t.Fatalf("Check = %v, want ErrBotDetected", err)
	}
	if f.dedup.calls != 0 {
		t.Error("dedup consulted for honeypot denial")
	}
}

func TestCheckDuplicate(t *testing.T) {
	f := newFixture()
	f.dedup.fresh = false
	if err := f.gate.Check(context.Background(), okRequest(f)); err != domain.ErrDuplicateContent {
		t.Fatalf("Check = %v, want ErrDuplicateContent", err)
	}
}

func TestCheckContentRejected(t *testing.T) {
	f := newFixture()
	f.scanner.textErr = domain.ErrContentRejected
	if err := f.gate.Check(context.Background(), okRequest(f)); err != domain.ErrContentRejected {
		t.Fatalf("Check = %v, want ErrContentRejected", err)
	}
}

func TestCheckNicknameRejected(t *testing.T) {
	f := newFixture()
	f.scanner.nickErr = domain.ErrNicknameRejected
	if err := f.gate.Check(context.Background(), okRequest(f)); err != domain.ErrNicknameRejected {
		t.Fatalf("Check = %v, want ErrNicknameRejected", err)
	}
}

func TestCheckHoneypot(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	minFill, maxAge := 3*time.Second, time.Hour
	issued := func(ago time.Duration) string {
		return strconv.FormatInt(now.Add(-ago).Unix(), 10)
	}

	cases := []struct {
		name     string
		honeypot string
		issuedAt string
		want     error
	}{
		{"clean", "", issued(30 * time.Second), nil},
		{"honeypot filled", "bot text", issued(30 * time.Second), domain.ErrBotDetected},
		{"honeypot whitespace only", "   ", issued(30 * time.Second), nil},
		{"too fast", "", issued(1 * time.Second), domain.ErrSubmittedTooFast},
		{"stale form", "", issued(2 * time.Hour), domain.ErrFormExpired},
		{"missing timestamp", "", "", nil},
		{"garbage timestamp", "", "not-a-number", nil},
		{"boundary exactly min fill", "", issued(3 * time.Second), nil},
	}
	for _, tc := range cases {
		if got := CheckHoneypot(tc.honeypot, tc.issuedAt, minFill, maxAge, now); got != tc.want {
			t.Errorf("%s: CheckHoneypot = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDecide(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name string
		mut  func(*Request)
		bot  bool
		want domain.Status
	}{
		{"media only", func(r *Request) {}, false, domain.StatusApproved},
		{"email present", func(r *Request) { r.Email = "a@b.co" }, false, domain.StatusPending},
		{"qq present", func(r *Request) { r.QQ = "12345" }, false, domain.StatusPending},
		{"url present", func(r *Request) { r.URL = "https://example.com" }, false, domain.StatusPending},
		{"no media", func(r *Request) { r.HasMedia = false }, false, domain.StatusPending},
		{"bot nickname", func(r *Request) {}, true, domain.StatusPending},
	}
	for _, tc := range cases {
		f.scanner.bot = tc.bot
		req := okRequest(f)
		tc.mut(&req)
		d := f.gate.Decide(req)
		if d.Status != tc.want {
			t.Errorf("%s: Decide = %s, want %s", tc.name, d.Status, tc.want)
		}
		if tc.want == domain.StatusPending && d.Reason == "" {
			t.Errorf("%s: pending decision carries no reason", tc.name)
		}
	}
}
