// Package scan screens attacker-supplied text before persistence. All
// patterns run on Go's RE2 engine (guaranteed linear time) and every
// input is length-capped first, so worst-case matching cost is bounded.
// The query-injection heuristics are defense in depth only: the storage
// layer remains parameterized regardless.
package scan

import (
	"regexp"
	"strings"

	"checkpost/pkg/domain"
	"checkpost/svc/util"
)

// Compiled once at package init; safe for concurrent use.
var (
	markupPatterns = []namedPattern{
		{"tag_opener", regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|frame|frameset|object|embed|applet|link|style|meta|form|base|svg|math|img)\b`)},
		{"script_scheme", regexp.MustCompile(`(?i)\b(javascript|vbscript|data)\s*:`)},
		{"event_handler", regexp.MustCompile(`(?i)\bon[a-z]{2,}\s*=`)},
		{"css_expression", regexp.MustCompile(`(?i)\bexpression\s*\(`)},
		{"css_url", regexp.MustCompile(`(?i)\burl\s*\(`)},
	}
	queryPatterns = []namedPattern{
		{"tautology", regexp.MustCompile(`(?i)\b(or|and)\b\s*'?\d+'?\s*=\s*'?\d+'?`)},
		{"quoted_tautology", regexp.MustCompile(`(?i)'\s*(or|and)\s*'[^']*'\s*=\s*'`)},
		{"stacked_statement", regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|alter|create|truncate|exec|union)\b`)},
		{"comment_marker", regexp.MustCompile(`(--\s|--$|/\*|\*/)`)},
	}

	// Known propaganda-bot nickname shapes: a fixed phrase with an
	// optional trailing run of digits.
	defaultBotPhrases = []string{
		"网络评论员",
		"正能量网友",
		"爱国小将",
	}
)

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

type Scanner struct {
	maxLen      int
	keywords    *KeywordList
	botNickname []*regexp.Regexp
}

// New builds a scanner. keywords may be nil when no denylist file is
// configured.
func New(maxLen int, keywords *KeywordList) *Scanner {
	return &Scanner{
		maxLen:      maxLen,
		keywords:    keywords,
		botNickname: compileBotPhrases(defaultBotPhrases),
	}
}

// SetBotPhrases replaces the nickname templates. Not safe to call after
// the scanner is in use.
func (s *Scanner) SetBotPhrases(phrases []string) {
	s.botNickname = compileBotPhrases(phrases)
}

func compileBotPhrases(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, regexp.MustCompile(`^`+regexp.QuoteMeta(p)+`[0-9]*$`))
	}
	return out
}

func (s *Scanner) cap(text string) string {
	if s.maxLen > 0 && len(text) > s.maxLen {
		return text[:s.maxLen]
	}
	return text
}

// ScanText checks free text in order: markup/script injection, query
// injection heuristics, then the keyword denylist. The returned error is
// always the generic ErrContentRejected; only the rule name is logged.
func (s *Scanner) ScanText(text string) error {
	t := s.cap(text)
	for _, p := range markupPatterns {
		if p.re.MatchString(t) {
			util.Debug().Str("rule", p.name).Msg("content rejected by markup pattern")
			return domain.ErrContentRejected
		}
	}
	for _, p := range queryPatterns {
		if p.re.MatchString(t) {
			util.Debug().Str("rule", p.name).Msg("content rejected by query heuristic")
			return domain.ErrContentRejected
		}
	}
	if s.keywords != nil && s.keywords.Match(t) {
		util.Debug().Str("rule", "keyword").Msg("content rejected by keyword denylist")
		return domain.ErrContentRejected
	}
	return nil
}

// ScanNickname applies the injection and keyword checks to a display
// name. Bot-template matches are not a hard denial; the gatekeeper holds
// those for review instead (see MatchesBotNickname).
func (s *Scanner) ScanNickname(name string) error {
	if err := s.ScanText(name); err != nil {
		return domain.ErrNicknameRejected
	}
	return nil
}

// MatchesBotNickname reports whether a display name looks machine
// generated. The gatekeeper also uses this as a hold-for-review signal
// on names that are otherwise valid.
func (s *Scanner) MatchesBotNickname(name string) bool {
	name = strings.TrimSpace(s.cap(name))
	for _, re := range s.botNickname {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
