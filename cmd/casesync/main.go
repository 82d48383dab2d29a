package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caseatlas/casesync/internal/casesync"
	"github.com/caseatlas/casesync/internal/httpapi"
)

func main() {
	addr := os.Getenv("CASESYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := casesync.BuildStoreFromDSN(os.Getenv("CASESYNC_STORE_DSN"))
	if err != nil {
		log.Fatalf("failed to initialize annotation store: %v", err)
	}
	defer store.Close()

	var validator *casesync.PayloadValidator
	if schemaPath := strings.TrimSpace(os.Getenv("CASESYNC_ANNOTATION_SCHEMA")); schemaPath != "" {
		validator, err = casesync.NewPayloadValidator(schemaPath)
		if err != nil {
			log.Fatalf("failed to load annotation schema %s: %v", schemaPath, err)
		}
		defer validator.Close()
	}

	registry := casesync.NewRoomRegistry(durationEnv("CASESYNC_SEND_TIMEOUT", 0))
	gateway := casesync.NewGateway(casesync.GatewayOptions{
		Store:     store,
		Registry:  registry,
		Validator: validator,
	})
	server := httpapi.NewServerWithConfig(gateway, httpapi.ServerConfig{
		IdentitySecret:  os.Getenv("CASESYNC_IDENTITY_SECRET"),
		RateLimitMax:    intEnv("CASESYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("CASESYNC_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("CASESYNC_MAX_BODY_BYTES", 0),
	})

	log.Printf("casesync listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
