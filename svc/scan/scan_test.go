package scan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"checkpost/pkg/domain"
)

func TestScanTextMarkupInjection(t *testing.T) {
	s := New(16*1024, nil)
	bad := []string{
		`<script>alert(1)</script>`,
		`< SCRIPT src=x>`,
		`<img src=x onerror=alert(1)>`,
		`click javascript:void(0)`,
		`VBSCRIPT: do evil`,
		`style=background:url(evil)`,
		`width:expression(alert(1))`,
		`<iframe src="x">`,
		`hello onload = pwn`,
	}
	for _, in := range bad {
		if err := s.ScanText(in); err != domain.ErrContentRejected {
			t.Errorf("ScanText(%q) = %v, want ErrContentRejected", in, err)
		}
	}
}

func TestScanTextQueryInjection(t *testing.T) {
	s := New(16*1024, nil)
	bad := []string{
		`x' OR '1'='1`,
		`1 or 1=1`,
		`id; DROP TABLE check_ins`,
		`nothing to see /* here */`,
		`trailing comment --`,
	}
	for _, in := range bad {
		if err := s.ScanText(in); err != domain.ErrContentRejected {
			t.Errorf("ScanText(%q) = %v, want ErrContentRejected", in, err)
		}
	}
}

func TestScanTextAllowsOrdinaryContent(t *testing.T) {
	s := New(16*1024, nil)
	good := []string{
		"checked in today, feeling great",
		"今天打卡,继续加油!",
		"math: 1 + 1 = 2 and 2 < 3",
		"see you on day 100",
		"double-dash--without-space survives",
	}
	for _, in := range good {
		if err := s.ScanText(in); err != nil {
			t.Errorf("ScanText(%q) = %v, want nil", in, err)
		}
	}
}

func TestScanTextLengthCapBoundsMatching(t *testing.T) {
	s := New(64, nil)
	// The payload sits past the cap, so it is never inspected; the cap
	// exists to bound matching cost, not to extend coverage.
	in := strings.Repeat("a", 100) + "<script>"
	if err := s.ScanText(in); err != nil {
		t.Errorf("ScanText beyond cap = %v, want nil", err)
	}
	if err := s.ScanText("<script>" + strings.Repeat("a", 100)); err != domain.ErrContentRejected {
		t.Errorf("ScanText within cap = %v, want ErrContentRejected", err)
	}
}

func TestScanTextKeywordDenylist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.txt")
	if err := os.WriteFile(path, []byte("# comment line\n\nCasino\n代开发票\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	kw, err := LoadKeywords(path)
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	defer kw.Close()
	if kw.Len() != 2 {
		t.Fatalf("Len = %d, want 2", kw.Len())
	}

	s := New(16*1024, kw)
	if err := s.ScanText("best CASINO in town"); err != domain.ErrContentRejected {
		t.Errorf("keyword match = %v, want ErrContentRejected", err)
	}
	if err := s.ScanText("无广告内容"); err != nil {
		t.Errorf("clean text = %v, want nil", err)
	}
	// The comment line is not a keyword.
	if err := s.ScanText("comment line"); err != nil {
		t.Errorf("comment text = %v, want nil", err)
	}
}

func TestKeywordReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.txt")
	if err := os.WriteFile(path, []byte("first\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	kw, err := LoadKeywords(path)
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	defer kw.Close()

	if !kw.Match("the first one") {
		t.Fatal("initial keyword not matched")
	}
	if err := os.WriteFile(path, []byte("second\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := kw.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if kw.Match("the first one") {
		t.Error("stale keyword still matched after reload")
	}
	if !kw.Match("the second one") {
		t.Error("new keyword not matched after reload")
	}
}

func TestKeywordMissingFile(t *testing.T) {
	kw, err := LoadKeywords(filepath.Join(t.TempDir(), "absent.txt"))
	if err != nil {
		t.Fatalf("LoadKeywords on missing file: %v", err)
	}
	defer kw.Close()
	if kw.Len() != 0 {
		t.Errorf("Len = %d, want 0", kw.Len())
	}
	if kw.Match("anything") {
		t.Error("empty list matched")
	}
}

func TestScanNicknameGenericError(t *testing.T) {
	s := New(16*1024, nil)
	if err := s.ScanNickname(`<script>`); err != domain.ErrNicknameRejected {
		t.Errorf("ScanNickname = %v, want ErrNicknameRejected", err)
	}
	if err := s.ScanNickname("普通用户"); err != nil {
		t.Errorf("ScanNickname clean = %v, want nil", err)
	}
}

func TestMatchesBotNickname(t *testing.T) {
	s := New(16*1024, nil)
	cases := []struct {
		name string
		want bool
	}{
		{"网络评论员", true},
		{"网络评论员42", true},
		{"正能量网友007", true},
		{" 爱国小将9 ", true},
		{"前网络评论员", false},
		{"网络评论员abc", false},
		{"regular_user", false},
	}
	for _, tc := range cases {
		if got := s.MatchesBotNickname(tc.name); got != tc.want {
			t.Errorf("MatchesBotNickname(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
	// Templates are not a hard denial.
	if err := s.ScanNickname("网络评论员42"); err != nil {
		t.Errorf("ScanNickname(bot template) = %v, want nil", err)
	}
}
