package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is one registered OIDC client.
type Client struct {
	ID           string
	Secret       string
	RedirectURIs []string
}

// AllowsRedirect reports whether the URI is registered for this client.
// An empty allow-list accepts any URI (development mode).
func (c Client) AllowsRedirect(uri string) bool {
	if len(c.RedirectURIs) == 0 {
		return true
	}
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// Config holds every runtime input, populated from the environment.
type Config struct {
	Addr            string
	Issuer          string
	PGDSN           string
	JWTTTL          time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Client          Client
	MailAPIKey      string
	MailEndpoint    string
	ExternalJWKSURL string
	ExternalIssuer  string
}

// FromEnv reads configuration from IDPORT_* environment variables, applying
// the documented defaults where unset.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:            envOr("IDPORT_ADDR", ":8080"),
		Issuer:          envOr("IDPORT_ISSUER", "idport"),
		PGDSN:           os.Getenv("IDPORT_PG_DSN"),
		MailAPIKey:      os.Getenv("IDPORT_MAIL_API_KEY"),
		MailEndpoint:    os.Getenv("IDPORT_MAIL_ENDPOINT"),
		ExternalJWKSURL: os.Getenv("IDPORT_EXTERNAL_JWKS_URL"),
		ExternalIssuer:  os.Getenv("IDPORT_EXTERNAL_ISSUER"),
		Client: Client{
			ID:     os.Getenv("IDPORT_CLIENT_ID"),
			Secret: os.Getenv("IDPORT_CLIENT_SECRET"),
		},
	}
	if uris := strings.TrimSpace(os.Getenv("IDPORT_REDIRECT_URIS")); uris != "" {
		for _, u := range strings.Split(uris, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.Client.RedirectURIs = append(cfg.Client.RedirectURIs, u)
			}
		}
	}

	var err error
	if cfg.JWTTTL, err = envSeconds("IDPORT_JWT_TTL", 600); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = envSeconds("IDPORT_ACCESS_TOKEN_TTL", 1800); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = envSeconds("IDPORT_REFRESH_TOKEN_TTL", 604800); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback int64) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return time.Duration(fallback) * time.Second, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("%s must be a positive number of seconds, got %q", key, raw)
	}
	return time.Duration(secs) * time.Second, nil
}
