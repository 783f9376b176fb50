package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-orders/internal/auth"
	"restaurant-orders/internal/cart"
	"restaurant-orders/internal/config"
	"restaurant-orders/internal/database"
	"restaurant-orders/internal/httpx"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/messaging"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/pricing"
	"restaurant-orders/internal/services/adminsync"
	"restaurant-orders/internal/services/hub"
	"restaurant-orders/internal/services/order"
	"restaurant-orders/internal/services/tracking"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

var defaultPorts = map[string]int{
	"order-service": 3000,
	"broadcast-hub": 3001,
	"admin-sync":    3002,
}

func main() {
	var (
		mode       = flag.String("mode", "", "Service mode (order-service, broadcast-hub, admin-sync)")
		port       = flag.Int("port", 0, "HTTP port (defaults to 3000, 3001 or 3002 by mode)")
		configPath = flag.String("config", "config.yaml", "Path to the YAML config file")
		date       = flag.String("date", "", "Business day admin-sync starts on (YYYY-MM-DD, defaults to today)")
		prefetch   = flag.Int("prefetch", 10, "RabbitMQ prefetch count for the hub relay")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, ok := defaultPorts[*mode]; !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown mode %q\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if *port == 0 {
		*port = defaultPorts[*mode]
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(*mode)
	requestID := logger.GenerateRequestID()

	log.Info("service_started", fmt.Sprintf("Starting %s", *mode), requestID, map[string]interface{}{
		"mode": *mode,
		"port": *port,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
		cancel()
	}()

	switch *mode {
	case "order-service":
		err = runOrderService(ctx, cfg, log, *port)
	case "broadcast-hub":
		err = runBroadcastHub(ctx, cfg, log, *port, *prefetch)
	case "admin-sync":
		err = runAdminSync(ctx, cfg, log, *port, *date)
	}
	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		os.Exit(1)
	}

	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}

// runOrderService serves order mutation, the cart flow and order tracking
func runOrderService(ctx context.Context, cfg *config.Config, log *logger.Logger, port int) error {
	requestID := logger.GenerateRequestID()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	conn, err := messaging.New(ctx, cfg.RabbitMQURL(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()
	publisher := messaging.NewPublisher(conn, log)
	defer publisher.Close()

	carts, err := cart.NewRedisStore(ctx, cfg.Redis.URL, cfg.CartTTL())
	if err != nil {
		return fmt.Errorf("failed to initialize cart store: %w", err)
	}
	defer carts.Close()

	log.Info("dependencies_ready", "Connected to PostgreSQL, RabbitMQ and Redis", requestID, nil)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	orders := order.NewService(order.NewPostgresStore(db), publisher, order.Options{
		Prefix:   cfg.Business.OrderPrefix,
		Retries:  cfg.Business.OrderNumberRetries,
		Location: loc,
		Policy:   pricing.NewPolicy(cfg.Business.TaxRate, cfg.Business.ServiceFeeRate, cfg.Business.ServiceFeeFlat),
	}, log)
	reads := tracking.NewService(tracking.NewPostgresRepo(db), loc, log)

	r := mux.NewRouter()
	order.NewHandler(orders, verifier, log).Register(r)
	order.NewCartHandler(orders, carts, log).Register(r)
	tracking.NewHandler(reads, verifier, log).Register(r)

	return serveHTTP(ctx, log, port, httpx.WithLogging(log, r))
}

// runBroadcastHub relays order events from RabbitMQ to WebSocket clients
func runBroadcastHub(ctx context.Context, cfg *config.Config, log *logger.Logger, port, prefetch int) error {
	conn, err := messaging.New(ctx, cfg.RabbitMQURL(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()

	hostname, _ := os.Hostname()
	consumer := messaging.NewConsumer(conn, log, fmt.Sprintf("broadcast-hub-%s-%d", hostname, os.Getpid()), prefetch)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	registry := hub.NewRegistry(cfg.Hub.SendBuffer, log)
	server := hub.NewServer(registry, verifier, cfg.WriteTimeout(), log)

	r := mux.NewRouter()
	hub.NewHandler(server, registry, verifier, log).Register(r)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.NewRelay(consumer, registry, log).Run(ctx)
	})
	g.Go(func() error {
		return serveHTTP(ctx, log, port, httpx.WithLogging(log, r))
	})
	return g.Wait()
}

// runAdminSync keeps a business day's board in step with order-service and the hub
func runAdminSync(ctx context.Context, cfg *config.Config, log *logger.Logger, port int, date string) error {
	if date == "" {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		date = models.BusinessDate(time.Now(), loc)
	}
	if _, err := models.ParseBusinessDate(date); err != nil {
		return fmt.Errorf("invalid --date: %w", err)
	}

	fetcher := adminsync.NewRESTFetcher(cfg.Admin.APIURL, cfg.Admin.Token, nil)
	stream := adminsync.NewStreamClient(cfg.Hub.URL, cfg.Admin.Token, log)
	syncer := adminsync.NewSyncer(fetcher, stream, date, cfg.PollInterval(), log)

	r := mux.NewRouter()
	adminsync.NewHandler(syncer, log).Register(r)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncer.Run(ctx)
	})
	g.Go(func() error {
		return serveHTTP(ctx, log, port, httpx.WithLogging(log, r))
	})
	return g.Wait()
}

// serveHTTP serves h until ctx ends, then shuts the server down
func serveHTTP(ctx context.Context, log *logger.Logger, port int, h http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http_listening", fmt.Sprintf("HTTP server listening on port %d", port), "", map[string]interface{}{
			"port": port,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
