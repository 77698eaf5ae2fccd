package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nfowler/go-realm/internal/api"
	"github.com/nfowler/go-realm/internal/config"
	"github.com/nfowler/go-realm/internal/database"
	"github.com/nfowler/go-realm/internal/realm"
	"github.com/nfowler/go-realm/internal/server"
	"github.com/nfowler/go-realm/internal/stats"
)

const defaultSigningKey = "kq2aXhY0n1M4vPz8cR7dTE5wFbJi/LuQ9sA6+gOHCXo="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configFile     string
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&configFile, "config", "", "path to YAML config file")
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-realm] ", log.LstdFlags)

	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	}
	if err != nil {
		logger.Fatal("config: ", err)
	}

	repo, err := database.NewPgUserRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Fatal("db close: ", err)
		}
	}()

	rs := realm.NewRealmState()
	rs.Cooldown = cfg.TransactionCooldown

	// Rehydrate known identities so user ids survive restarts.
	records, err := repo.ListUsers()
	if err != nil {
		logger.Fatal("list users: ", err)
	}
	for _, rec := range records {
		rs.AddUser(&realm.User{
			ID:          rec.ID,
			Name:        rec.Name,
			HashedKey:   rec.HashedKey,
			Preferences: rec.Preferences,
		})
	}
	logger.Printf("loaded %d users", len(records))

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	realmServer, err := server.NewRealmServer(logger, rs, repo, statsUpdater, cfg.Version, cfg.TransactionRetention)
	if err != nil {
		logger.Fatal("new realm server: ", err)
	}

	srv := api.NewRealmAPI(logger, realmServer, mux, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go realmServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down realm server...")
	if err := realmServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("realm server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
