package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrContentRequired  = NewErr("CONTENT_REQUIRED", "content required", http.StatusBadRequest)
	ErrContentTooLong   = NewErr("CONTENT_TOO_LONG", "content too long", http.StatusBadRequest)
	ErrInvalidNickname  = NewErr("INVALID_NICKNAME", "invalid nickname", http.StatusBadRequest)
	ErrInvalidEmail     = NewErr("INVALID_EMAIL", "invalid email", http.StatusBadRequest)
	ErrInvalidURL       = NewErr("INVALID_URL", "invalid url", http.StatusBadRequest)
	ErrInvalidQQ        = NewErr("INVALID_QQ", "invalid qq number", http.StatusBadRequest)
	ErrInvalidAvatar    = NewErr("INVALID_AVATAR", "avatar must be a single emoji", http.StatusBadRequest)
	ErrInvalidRequest   = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrBotDetected      = NewErr("BOT_DETECTED", "request rejected", http.StatusBadRequest)
	ErrSubmittedTooFast = NewErr("TOO_FAST", "submitted too fast, try again shortly", http.StatusBadRequest)
	ErrFormExpired      = NewErr("FORM_EXPIRED", "form expired, please reload", http.StatusBadRequest)
	ErrDuplicateContent = NewErr("DUPLICATE_CONTENT", "duplicate content submitted too recently", http.StatusBadRequest)

	// Scanner denials are deliberately generic: the matched pattern or
	// keyword is never echoed back to the submitter.
	ErrContentRejected  = NewErr("CONTENT_REJECTED", "content not allowed", http.StatusBadRequest)
	ErrNicknameRejected = NewErr("NICKNAME_REJECTED", "nickname not allowed", http.StatusBadRequest)

	ErrBlocklisted   = NewErr("FORBIDDEN", "access denied", http.StatusForbidden)
	ErrRateLimited   = NewErr("RATE_LIMITED", "too many requests", http.StatusTooManyRequests)
	ErrRegionBlocked = NewErr("REGION_BLOCKED", "service unavailable in your region", http.StatusUnavailableForLegalReasons)

	ErrArchiveUnsupported = NewErr("ARCHIVE_UNSUPPORTED", "unsupported archive format", http.StatusBadRequest)
	ErrArchiveRejected    = NewErr("ARCHIVE_REJECTED", "archive contains disallowed content", http.StatusBadRequest)
	ErrArchiveTooLarge    = NewErr("ARCHIVE_TOO_LARGE", "archive exceeds size limits", http.StatusBadRequest)
	ErrArchiveCorrupt     = NewErr("ARCHIVE_CORRUPT", "corrupt archive", http.StatusBadRequest)
	ErrArchiveTimeout     = NewErr("ARCHIVE_TIMEOUT", "archive processing timed out", http.StatusBadRequest)
	ErrEntryNotFound      = NewErr("ENTRY_NOT_FOUND", "entry not found in archive", http.StatusNotFound)

	ErrCheckInNotFound = NewErr("CHECKIN_NOT_FOUND", "check-in not found", http.StatusNotFound)
	ErrAlreadyLiked    = NewErr("ALREADY_LIKED", "already liked", http.StatusConflict)
	ErrInternalServer  = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	if e, ok := err.(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func HTTPStatus(err error) int {
	if e, ok := err.(*Err); ok {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
