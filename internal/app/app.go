package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"keyportal/internal/app/bootstrap"
	"keyportal/internal/app/server"
	"keyportal/internal/config"
	"keyportal/internal/jobs/maintenance"
	"keyportal/internal/jobs/runtime"
	"keyportal/internal/keys"
	"keyportal/internal/monitor"
	"keyportal/internal/notify"
	"keyportal/internal/snapshot"
	"keyportal/internal/stats"
	"keyportal/internal/stream"
	"keyportal/internal/support"
	"keyportal/internal/upstream"
)

const defaultPortalPort = 8080

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	portFlag := flag.Int("port", defaultPortalPort, "Port for the portal server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)

	port := resolvePort("PORTAL_PORT", "PORT", *portFlag)

	redisClient, err := support.GetRedisClient()
	if err != nil {
		return fmt.Errorf("failed to get redis client: %w", err)
	}

	ctx := context.Background()

	heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient)
	defer heartbeatCancel()

	bootstrap.Setup()
	config.EnableRedisSynchronization(ctx, redisClient)

	cfg := config.GetConfig()

	client := upstream.NewClient(
		cfg.Upstream.URL,
		cfg.Upstream.ManagementKey,
		time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second,
	)

	pool := keys.NewPool(filepath.Join(config.DataDir, "key_pool.json"))
	registry := keys.NewRegistry(filepath.Join(config.DataDir, "user_keys.json"))
	mapping := keys.NewMapping(filepath.Join(config.DataDir, "user_mapping.json"))
	keyService := keys.NewService(pool, registry, client)

	notifier := notify.NewFeishu(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.LoginURL)

	store := snapshot.NewStore(filepath.Join(config.DataDir, "usage_snapshot.json"))
	mon := monitor.New(client, store)

	statsService := stats.NewService(client, registry, time.Duration(cfg.Usage.CacheTTLSeconds)*time.Second)
	hub := stream.NewHub()

	server.Configure(server.Dependencies{
		Upstream: client,
		Keys:     keyService,
		Stats:    statsService,
		Mapping:  mapping,
		Notifier: notifier,
		Hub:      hub,
		Monitor:  mon,
	})

	repoDir := support.GetEnv("USAGE_REPO_DIR", ".")

	scheduler := runtime.NewScheduler(client, registry, mapping, notifier, store, repoDir)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	broadcaster := runtime.NewUsageBroadcaster(client, mon, hub)
	go broadcaster.Start(ctx)

	go maintenance.StartRestartEventCleanupRoutine(ctx)

	return server.OpenRoutes(port)
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
