package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES", "PRODUCT_CACHE_TTL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ProductCacheTTLSeconds != 30 {
		t.Fatalf("expected default cache TTL 30, got %d", cfg.ProductCacheTTLSeconds)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/splmart")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")
	t.Setenv("PRODUCT_CACHE_TTL_SECONDS", "nonsense")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		t.Fatalf("expected overrides to apply: %+v", cfg)
	}
	if cfg.AccessTokenTTLMinutes != 60 {
		t.Fatalf("expected token TTL 60, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ProductCacheTTLSeconds != 30 {
		t.Fatalf("expected invalid cache TTL to fall back to 30, got %d", cfg.ProductCacheTTLSeconds)
	}
}
