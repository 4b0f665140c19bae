package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idport.org/internal/config"
	"idport.org/internal/extidp"
	"idport.org/internal/httpapi"
	"idport.org/internal/identity"
	"idport.org/internal/mailer"
	"idport.org/internal/obs"
	"idport.org/internal/store"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Persistence gateway: Postgres when a DSN is configured, otherwise an
	// in-process map (identity data does not survive restarts in that mode).
	var gateway store.Gateway = store.NewMemory()
	var pg *store.Postgres
	if cfg.PGDSN != "" {
		pg, err = store.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open persistence gateway: %v", err)
		}
		gateway = pg
	}

	var send identity.Mailer = mailer.Log{}
	if cfg.MailAPIKey != "" && cfg.MailEndpoint != "" {
		send = mailer.NewHTTPProvider(cfg.MailEndpoint, cfg.MailAPIKey)
	}

	idp, err := identity.New(gateway,
		identity.WithIssuer(cfg.Issuer),
		identity.WithJWTTTL(cfg.JWTTTL),
		identity.WithAccessTTL(cfg.AccessTokenTTL),
		identity.WithRefreshTTL(cfg.RefreshTokenTTL),
		identity.WithMailer(send),
	)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if err := idp.Bootstrap(bootCtx); err != nil {
		cancelBoot()
		log.Fatalf("bootstrap: %v", err)
	}
	cancelBoot()

	var verifier extidp.Verifier = extidp.Denying{}
	if cfg.ExternalJWKSURL != "" {
		verifier = extidp.NewJWKSVerifier(cfg.ExternalJWKSURL, cfg.ExternalIssuer)
	}

	rp := httpapi.ReadyProbe{}
	if pg != nil {
		rp.Pinger = pg
	}
	api := httpapi.New(idp, verifier, cfg.Client, rp, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Background sweep for expired reset tokens, exchange codes, stale
	// rate-limit counters and retired signing keys.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				idp.CleanupExpired(sweepCtx)
			}
		}
	}()

	log.Printf("Starting idport %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)
	cancelSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pg != nil {
		_ = pg.Close()
	}
	log.Println("Stopped")
}
