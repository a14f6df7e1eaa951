package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/pglock"
	pgdb "github.com/alanyang/pglock/internal/adapter/postgres"
	pgstock "github.com/alanyang/pglock/internal/adapter/postgres/stock"
	stocksvc "github.com/alanyang/pglock/internal/service/stock"
	"github.com/alanyang/pglock/internal/transport"
	wshandler "github.com/alanyang/pglock/internal/transport/ws"
)

// defaultBuyDelay is wide enough to reproduce the buy-bad race with two
// concurrent curls.
const defaultBuyDelay = 800 * time.Millisecond

// App holds the top-level resources needed to run and gracefully stop the
// demo server.
type App struct {
	Pool   *pgxpool.Pool
	Server *http.Server
}

// Build is the composition root: the only place concrete types are wired to
// their interface dependencies.
func Build(ctx context.Context) (*App, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	pool, err := pgdb.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	delay := defaultBuyDelay
	if v := os.Getenv("STOCKD_BUY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("parsing STOCKD_BUY_DELAY: %w", err)
		}
		delay = d
	}

	locker := pglock.NewFromPool(pool, pglock.WithDefaultTimeout(2*time.Second))

	hub := wshandler.NewHub()
	stockRepo := pgstock.New(pool)
	stockSvc := stocksvc.NewService(stockRepo, locker, hub, delay)

	router := transport.NewRouter(stockSvc, hub)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	slog.Info("application wired", "port", port, "buy_delay", delay)

	return &App{Pool: pool, Server: server}, nil
}
