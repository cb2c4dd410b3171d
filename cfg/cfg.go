package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Cfg struct {
	Environment  string
	LogLevel     string
	DatabasePath string

	// DataDir holds uploaded archives and extracted preview images.
	DataDir       string
	BlocklistFile string
	KeywordFile   string
	GeoDBPath     string

	BlockedRegions []string

	RateLimit RateLimitCfg

	DuplicateWindow time.Duration
	DedupCacheSize  int

	HoneypotMinFill time.Duration
	HoneypotMaxAge  time.Duration

	MaxContentLen  int
	MaxNicknameLen int
	MaxScanLen     int

	MaxArchiveEntries  int
	MaxDeclaredSize    int64
	MaxArchiveFileSize int64
	ExtractTimeout     time.Duration
	PreviewCount       int
	ThumbnailDim       int
	PreviewDim         int

	// RenderCacheSize and RenderCacheTTL bound the in-memory cache of
	// rendered thumbnail/preview data URIs.
	RenderCacheSize int
	RenderCacheTTL  time.Duration

	FingerprintKey []byte
}

type RateLimitCfg struct {
	Window      time.Duration
	MaxWrites   int
	BanDuration time.Duration
	// GlobalRPM bounds total write throughput across all identifiers.
	GlobalRPM int
}

func Load() (*Cfg, error) {
	// Optional .env for local development; the real environment wins.
	_ = godotenv.Load()

	c := &Cfg{}
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "checkpost.db")
	c.DataDir = getEnv("DATA_DIR", "data")
	c.BlocklistFile = getEnv("BLOCKLIST_FILE", "data/blocklist.txt")
	c.KeywordFile = getEnv("KEYWORD_FILE", "data/spam_keywords.txt")
	c.GeoDBPath = getEnv("GEOIP_DB_PATH", "")
	c.BlockedRegions = getSlice("BLOCKED_REGIONS", []string{"CN"})

	var err error
	c.RateLimit.Window, err = getDuration("RATE_LIMIT_WINDOW", 60*time.Second)
	if err != nil {
		return nil, err
	}
	c.RateLimit.MaxWrites, err = getInt("RATE_LIMIT_MAX_WRITES", 10)
	if err != nil {
		return nil, err
	}
	c.RateLimit.BanDuration, err = getDuration("RATE_LIMIT_BAN_DURATION", 300*time.Second)
	if err != nil {
		return nil, err
	}
	c.RateLimit.GlobalRPM, err = getInt("RATE_LIMIT_GLOBAL_RPM", 600)
	if err != nil {
		return nil, err
	}
	c.DuplicateWindow, err = getDuration("DUPLICATE_WINDOW", 300*time.Second)
	if err != nil {
		return nil, err
	}
	c.DedupCacheSize, err = getInt("DEDUP_CACHE_SIZE", 10000)
	if err != nil {
		return nil, err
	}
	c.HoneypotMinFill, err = getDuration("HONEYPOT_MIN_FILL", 3*time.Second)
	if err != nil {
		return nil, err
	}
	c.HoneypotMaxAge, err = getDuration("HONEYPOT_MAX_AGE", time.Hour)
	if err != nil {
		return nil, err
	}
	c.MaxContentLen, err = getInt("MAX_CONTENT_LEN", 10000)
	if err != nil {
		return nil, err
	}
	c.MaxNicknameLen, err = getInt("MAX_NICKNAME_LEN", 20)
	if err != nil {
		return nil, err
	}
	c.MaxScanLen, err = getInt("MAX_SCAN_LEN", 16*1024)
	if err != nil {
		return nil, err
	}
	c.MaxArchiveEntries, err = getInt("MAX_ARCHIVE_ENTRIES", 10000)
	if err != nil {
		return nil, err
	}
	c.MaxDeclaredSize, err = getInt64("MAX_DECLARED_SIZE", 500*1024*1024)
	if err != nil {
		return nil, err
	}
	c.MaxArchiveFileSize, err = getInt64("MAX_ARCHIVE_FILE_SIZE", 100*1024*1024)
	if err != nil {
		return nil, err
	}
	c.ExtractTimeout, err = getDuration("EXTRACT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	c.PreviewCount, err = getInt("PREVIEW_COUNT", 3)
	if err != nil {
		return nil, err
	}
	c.ThumbnailDim, err = getInt("THUMBNAIL_DIM", 200)
	if err != nil {
		return nil, err
	}
	c.PreviewDim, err = getInt("PREVIEW_DIM", 800)
	if err != nil {
		return nil, err
	}
	c.RenderCacheSize, err = getInt("RENDER_CACHE_SIZE", 4096)
	if err != nil {
		return nil, err
	}
	c.RenderCacheTTL, err = getDuration("RENDER_CACHE_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	c.FingerprintKey = []byte(getEnv("FINGERPRINT_KEY", ""))
	return c, nil
}

func Validate(c *Cfg) error {
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH must not be empty")
	}
	if c.DataDir == "" {
		return errors.New("DATA_DIR must not be empty")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxWrites <= 0 || c.RateLimit.BanDuration <= 0 {
		return errors.New("rate limit window, max writes and ban duration must be positive")
	}
	if c.DuplicateWindow <= 0 || c.DedupCacheSize <= 0 {
		return errors.New("duplicate window and cache size must be positive")
	}
	if c.MaxArchiveEntries <= 0 || c.MaxDeclaredSize <= 0 {
		return errors.New("archive entry and size caps must be positive")
	}
	if c.ExtractTimeout <= 0 {
		return errors.New("extract timeout must be positive")
	}
	if c.PreviewCount <= 0 || c.ThumbnailDim <= 0 || c.PreviewDim <= 0 {
		return errors.New("preview count and dimensions must be positive")
	}
	if c.RenderCacheSize <= 0 || c.RenderCacheTTL <= 0 {
		return errors.New("render cache size and TTL must be positive")
	}
	if len(c.FingerprintKey) > 0 && len(c.FingerprintKey) < 16 {
		return errors.New("FINGERPRINT_KEY must be at least 16 bytes when set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
