// webhookd is a minimal receiver that feeds processor webhook deliveries
// into the reconciliation engine. It answers 200 once a delivery is
// durably recorded and 400 when verification or parsing fails, so the
// processor retries only what was never applied.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/config"
	"github.com/paybridge/paybridge/payerr"
	"github.com/paybridge/paybridge/storage"
	"github.com/paybridge/paybridge/storage/pgstore"
	"github.com/paybridge/paybridge/storage/redisstore"
)

// maxBodyBytes caps webhook payload reads. Real processor events are a few
// kilobytes; anything near the cap is not a webhook.
const maxBodyBytes = 1 << 20

func main() {
	var (
		addr        string
		redisAddr   string
		databaseURL string
	)
	flag.StringVar(&addr, "addr", ":8787", "listen address")
	flag.StringVar(&redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address for durable idempotency records")
	flag.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres DSN for durable idempotency records; redis wins when both are set")
	flag.Parse()

	if err := run(addr, redisAddr, databaseURL); err != nil {
		slog.Error("webhookd failed", "err", err)
		os.Exit(1)
	}
}

func run(addr, redisAddr, databaseURL string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var store storage.Storage
	switch {
	case redisAddr != "":
		rs, err := redisstore.New(redisstore.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		store = rs
	case databaseURL != "":
		ps, err := pgstore.New(databaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer ps.Close()
		store = ps
	default:
		slog.Warn("no durable store configured, webhook idempotency records are in-memory only")
		store = storage.NewMemory()
	}

	client, err := paybridge.New(cfg, paybridge.Options{Store: store})
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	err = client.Initialize(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", handleWebhook(client))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("webhookd listening", "addr", addr, "processor", cfg.Processor)
	return srv.ListenAndServe()
}

// firstHeader returns the first non-empty header among names. One
// processor is active per deployment, so at most one of the signature
// headers is ever present.
func firstHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func handleWebhook(client *paybridge.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		signature := firstHeader(r,
			"Stripe-Signature",
			"Paddle-Signature",
			"Bt-Signature",
			"X-Signature",
			"X-GP-Signature",
		)

		event, err := client.HandleWebhook(r.Context(), signature, body)
		if err != nil {
			if errors.Is(err, payerr.ErrWebhookVerificationFailure) || errors.Is(err, payerr.ErrValidationFailure) {
				slog.Warn("rejected webhook delivery", "err", err)
				http.Error(w, "invalid webhook", http.StatusBadRequest)
				return
			}
			slog.Error("webhook processing failed", "err", err)
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
		slog.Info("webhook processed", "event", event.ID, "type", event.Type, "processor", event.Processor)
		w.WriteHeader(http.StatusOK)
	}
}
