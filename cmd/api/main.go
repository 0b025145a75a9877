package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"authcore.org/internal/auth"
	"authcore.org/internal/httpapi"
	"authcore.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	keys, err := loadKeys()
	if err != nil {
		log.Fatalf("load key material: %v", err)
	}
	issuer, err := auth.NewIssuer(keys)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	dsn := os.Getenv("AUTHCORE_PG_DSN")
	if dsn == "" {
		log.Fatal("missing AUTHCORE_PG_DSN")
	}
	store, err := auth.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	flow, err := auth.NewFlow(store, issuer)
	if err != nil {
		log.Fatalf("auth flow: %v", err)
	}

	var opts []httpapi.Option
	if origins := os.Getenv("AUTHCORE_CORS_ORIGINS"); origins != "" {
		opts = append(opts, httpapi.WithAllowedOrigins(strings.Split(origins, ",")))
	}
	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, flow, store, opts...)

	addr := os.Getenv("AUTHCORE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authcore-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// loadKeys reads key material from the environment: inline PEM or a file path
// for the RSA pair, plus the shared refresh secret. Missing material is a
// deployment fault and stops the process before it serves a single request.
func loadKeys() (*auth.StaticKeys, error) {
	privatePEM, err := envOrFile("AUTHCORE_PRIVATE_KEY", "AUTHCORE_PRIVATE_KEY_FILE")
	if err != nil {
		return nil, err
	}
	publicPEM, err := envOrFile("AUTHCORE_PUBLIC_KEY", "AUTHCORE_PUBLIC_KEY_FILE")
	if err != nil {
		return nil, err
	}
	return auth.NewStaticKeys(privatePEM, publicPEM, os.Getenv("AUTHCORE_REFRESH_SECRET"))
}

func envOrFile(envKey, fileKey string) (string, error) {
	if v := os.Getenv(envKey); strings.TrimSpace(v) != "" {
		return v, nil
	}
	path := strings.TrimSpace(os.Getenv(fileKey))
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
