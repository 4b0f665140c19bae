package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"IDPORT_ADDR", "IDPORT_ISSUER", "IDPORT_PG_DSN", "IDPORT_JWT_TTL",
		"IDPORT_ACCESS_TOKEN_TTL", "IDPORT_REFRESH_TOKEN_TTL",
		"IDPORT_CLIENT_ID", "IDPORT_CLIENT_SECRET", "IDPORT_REDIRECT_URIS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Issuer != "idport" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.JWTTTL != 10*time.Minute || cfg.AccessTokenTTL != 30*time.Minute || cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("ttl defaults: %+v", cfg)
	}
	if len(cfg.Client.RedirectURIs) != 0 {
		t.Fatalf("redirect uris: %v", cfg.Client.RedirectURIs)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("IDPORT_ADDR", ":9000")
	t.Setenv("IDPORT_ISSUER", "https://id.example")
	t.Setenv("IDPORT_JWT_TTL", "120")
	t.Setenv("IDPORT_ACCESS_TOKEN_TTL", "900")
	t.Setenv("IDPORT_REFRESH_TOKEN_TTL", "3600")
	t.Setenv("IDPORT_CLIENT_ID", "portal")
	t.Setenv("IDPORT_CLIENT_SECRET", "s3cret")
	t.Setenv("IDPORT_REDIRECT_URIS", " https://a.example/cb , https://b.example/cb ,")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.Issuer != "https://id.example" {
		t.Fatalf("overrides: %+v", cfg)
	}
	if cfg.JWTTTL != 2*time.Minute || cfg.AccessTokenTTL != 15*time.Minute || cfg.RefreshTokenTTL != time.Hour {
		t.Fatalf("ttls: %+v", cfg)
	}
	if cfg.Client.ID != "portal" || cfg.Client.Secret != "s3cret" {
		t.Fatalf("client: %+v", cfg.Client)
	}
	if len(cfg.Client.RedirectURIs) != 2 || cfg.Client.RedirectURIs[0] != "https://a.example/cb" {
		t.Fatalf("redirect uris: %v", cfg.Client.RedirectURIs)
	}
}

func TestFromEnvBadTTL(t *testing.T) {
	t.Setenv("IDPORT_JWT_TTL", "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for malformed ttl")
	}
	t.Setenv("IDPORT_JWT_TTL", "-5")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
}

func TestAllowsRedirect(t *testing.T) {
	open := Client{}
	if !open.AllowsRedirect("https://anything.example") {
		t.Fatalf("empty allow-list should accept any uri")
	}
	strict := Client{RedirectURIs: []string{"https://a.example/cb"}}
	if !strict.AllowsRedirect("https://a.example/cb") {
		t.Fatalf("registered uri rejected")
	}
	if strict.AllowsRedirect("https://a.example/cb/extra") {
		t.Fatalf("unregistered uri accepted")
	}
}
