package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"counterpos/backend/internal/checkout"
	"counterpos/backend/internal/config"
	"counterpos/backend/internal/events"
	"counterpos/backend/internal/httpapi"
	"counterpos/backend/internal/kv"
	"counterpos/backend/internal/reconcile"
	"counterpos/backend/internal/service"
	"counterpos/backend/internal/session"
	"counterpos/backend/internal/share"
	"counterpos/backend/internal/store"
	"counterpos/backend/internal/store/memory"
	pgstore "counterpos/backend/internal/store/postgres"
	"counterpos/backend/internal/terminal"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, reading the process environment")
	}
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	var sessionStore kv.Store = kv.NewMemory()
	if cfg.RedisAddr != "" {
		redisStore := kv.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisStore.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), keeping sessions in memory", err)
			_ = redisStore.Close()
		} else {
			sessionStore = redisStore
			closers = append(closers, redisStore.Close)
			log.Println("sessions: redis")
		}
	} else {
		log.Println("sessions: in-memory")
	}

	journalPath := cfg.ReconcileDBPath
	if journalPath == "" {
		journalPath = reconcile.DefaultPath
	}
	journal, err := reconcile.Open(journalPath)
	if err != nil {
		log.Fatalf("reconcile journal %s: %v", journalPath, err)
	}
	closers = append(closers, journal.Close)

	bills, err := checkout.NewBillNumbers(cfg.NodeID)
	if err != nil {
		log.Fatalf("bill numbers: %v", err)
	}

	var printer share.Printer = share.NullPrinter{}
	if cfg.PrinterAddr != "" {
		printer = share.NewNetworkPrinter(cfg.PrinterAddr)
		log.Printf("printer: %s", cfg.PrinterAddr)
	}

	hub := events.NewHub(events.DefaultHistory)
	sessions := session.NewRegistry(sessionStore, cfg.SessionMaxAge())
	committer := checkout.NewCommitter(repo, hub, journal, cfg.SaleTimeout())
	dispatcher := share.NewDispatcher(printer, hub, cfg.ShareRatePerSecond, cfg.ShareBurst)

	terminals := terminal.NewManager(terminal.Deps{
		Catalog:    terminal.NewCatalog(repo),
		Sessions:   sessions,
		Committer:  committer,
		Sharer:     dispatcher,
		Bills:      bills,
		PurgeDelay: cfg.TicketPurgeDelay(),
	}, cfg.SessionMaxAge())
	if err := terminals.RefreshCatalog(ctx); err != nil {
		log.Printf("[catalog] WARN: initial load failed, retrying on first use: %v", err)
	}

	svc := service.New(repo, terminals, sessions, journal, committer)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, hub, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	// Terminals close after in-flight sales settle so their final state
	// reaches the session store before it goes away.
	committer.Wait()
	dispatcher.Wait()
	svc.Wait()
	if err := terminals.Close(shutdownCtx); err != nil {
		log.Printf("terminal close error: %v", err)
	}
	if err := sessions.Close(); err != nil {
		log.Printf("session registry close error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are not all digits, repeat one
// digit, run in sequence, or appear on a known-weak list.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be digits only")
		}
	}
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "159753": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
