package svc

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"checkpost/pkg/domain"
)

const (
	maxEmailLen = 254
	maxURLLen   = 2048
)

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	qqRe    = regexp.MustCompile(`^[1-9][0-9]{4,10}$`)
)

// Characters never allowed in a nickname, independent of the scanner's
// pattern checks.
const forbiddenNicknameChars = `<>"'&\/;=` + "`"

func validateContent(content string, maxLen int) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return domain.ErrContentRequired
	}
	if utf8.RuneCountInString(content) > maxLen {
		return domain.ErrContentTooLong
	}
	return nil
}

func validateNickname(name string, maxLen int) error {
	if name == "" {
		return nil
	}
	if utf8.RuneCountInString(name) > maxLen {
		return domain.ErrInvalidNickname
	}
	if strings.ContainsAny(name, forbiddenNicknameChars) {
		return domain.ErrInvalidNickname
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return domain.ErrInvalidNickname
		}
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	if len(email) > maxEmailLen || !emailRe.MatchString(email) {
		return domain.ErrInvalidEmail
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > maxURLLen {
		return domain.ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain.ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.ErrInvalidURL
	}
	return nil
}

func validateQQ(qq string) error {
	if qq == "" {
		return nil
	}
	if !qqRe.MatchString(qq) {
		return domain.ErrInvalidQQ
	}
	return nil
}

// validateAvatar accepts a short emoji-style avatar. Plain ASCII text is
// rejected; an emoji with modifiers and joiners still fits in a handful
// of runes.
func validateAvatar(avatar string) error {
	if avatar == "" {
		return nil
	}
	if !utf8.ValidString(avatar) || utf8.RuneCountInString(avatar) > 8 {
		return domain.ErrInvalidAvatar
	}
	for _, r := range avatar {
		if r <= unicode.MaxASCII || unicode.IsControl(r) {
			return domain.ErrInvalidAvatar
		}
	}
	return nil
}
