package cfg

import (
	"testing"
	"time"
)

func TestRenderCacheDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RenderCacheSize != 4096 {
		t.Errorf("RenderCacheSize = %d, want 4096", c.RenderCacheSize)
	}
	if c.RenderCacheTTL != 15*time.Minute {
		t.Errorf("RenderCacheTTL = %v, want 15m", c.RenderCacheTTL)
	}
}

func TestRenderCacheOverrides(t *testing.T) {
	t.Setenv("RENDER_CACHE_SIZE", "64")
	t.Setenv("RENDER_CACHE_TTL", "1m")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RenderCacheSize != 64 || c.RenderCacheTTL != time.Minute {
		t.Errorf("overrides not applied: size=%d ttl=%v", c.RenderCacheSize, c.RenderCacheTTL)
	}
}

func TestValidateRejectsBadRenderCache(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.RenderCacheSize = 0
	if Validate(c) == nil {
		t.Error("Validate accepted zero render cache size")
	}
	c.RenderCacheSize = 4096
	c.RenderCacheTTL = 0
	if Validate(c) == nil {
		t.Error("Validate accepted zero render cache TTL")
	}
}
