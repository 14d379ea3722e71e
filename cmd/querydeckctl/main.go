package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/querydeck/querydeck/internal/cli/querydeckctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("QUERYDECK_CLI_TIMEOUT")), 60*time.Second)
	options := querydeckctl.Options{
		BaseURL:   envOr("QUERYDECK_API_URL", "http://localhost:8080"),
		APIKey:    strings.TrimSpace(os.Getenv("QUERYDECK_API_KEY")),
		Principal: strings.TrimSpace(os.Getenv("QUERYDECK_PRINCIPAL")),
		Timeout:   timeout,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}

	code := querydeckctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid QUERYDECK_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
