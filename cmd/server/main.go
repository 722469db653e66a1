package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/advisor"
	"github.com/mkre153/dealfinder-pro-sub000/internal/api"
	"github.com/mkre153/dealfinder-pro-sub000/internal/config"
	"github.com/mkre153/dealfinder-pro-sub000/internal/corpus"
	"github.com/mkre153/dealfinder-pro-sub000/internal/crm"
	"github.com/mkre153/dealfinder-pro-sub000/internal/notify"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/distlock"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/logger"
	"github.com/mkre153/dealfinder-pro-sub000/internal/repository/memory"
	"github.com/mkre153/dealfinder-pro-sub000/internal/repository/postgres"
	"github.com/mkre153/dealfinder-pro-sub000/internal/service/agent"
	"github.com/mkre153/dealfinder-pro-sub000/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale/stub processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  DealFinder Pro Server (cmd/server/main.go)                ║")
	log.Println("║  Property monitoring agents with CRM and alert delivery    ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.Host
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load the property corpus. A missing snapshot is not fatal: the server
	// starts empty and serves 503s on corpus-dependent endpoints until a
	// snapshot arrives via POST /api/corpus/reload.
	store := corpus.NewStore()
	if snap, err := corpus.LoadFile(cfg.Corpus.SnapshotPath); err != nil {
		log.Printf("Warning: Corpus snapshot not loaded from %s: %v — agents will report no_corpus until one arrives", cfg.Corpus.SnapshotPath, err)
	} else if err := store.Swap(snap); err != nil {
		log.Printf("Warning: Corpus snapshot rejected: %v", err)
	} else {
		log.Printf("Corpus loaded: %d properties, generated %s", len(snap.Properties), snap.GeneratedAt.Format(time.RFC3339))
	}

	// Snapshot archive for superseded corpus generations.
	var archive corpus.Archive
	if cfg.Archive.Backend == "s3" {
		s3Archive, err := corpus.NewS3Archive(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Prefix, cfg.Archive.S3Region)
		if err != nil {
			log.Printf("Warning: S3 archive init failed (superseded snapshots will not be archived): %v", err)
		} else {
			archive = s3Archive
			log.Printf("Snapshot archive: s3://%s/%s", cfg.Archive.S3Bucket, cfg.Archive.S3Prefix)
		}
	} else {
		archive = corpus.NewLocalArchive(cfg.Archive.LocalDir)
		log.Printf("Snapshot archive: %s", cfg.Archive.LocalDir)
	}

	// Persistence. With DATABASE_URL set, agents and the CRM outbox live in
	// Postgres. Without it the server runs in demo mode on in-process maps.
	var (
		db     *sql.DB
		repo   agent.Repository
		queue  worker.OutboxQueue
		lookup notify.RecipientLookup
	)
	if cfg.Database.URL != "" {
		log.Printf("Connecting to PostgreSQL at %s...", extractHost(cfg.Database.URL))
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			pingCancel()
			log.Fatalf("Database ping failed: %v", err)
		}
		pingCancel()
		log.Println("PostgreSQL connected")

		agentRepo := postgres.NewAgentRepo(db)
		repo = agentRepo
		queue = postgres.NewOutboxRepo(db)
		lookup = agentRepo
	} else {
		log.Println("Warning: no database configured (DATABASE_URL empty) — running in demo mode; agent state is in-memory and will not survive restart")
		mem := memory.NewRepo()
		repo = mem
		queue = mem
		lookup = mem
	}

	// Redis for per-agent check locks. Optional: a failed connection falls
	// back to PG advisory locks (or in-process locks in demo mode).
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — falling back to PG advisory locks", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (distributed check locking enabled)", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured — using PG advisory locks for check locking")
	}

	lockFactory := func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, ttl)
	}

	svc := agent.NewService(repo, store, lockFactory, agent.Options{
		CheckInterval: cfg.Scheduler.Interval(),
		JitterMax:     cfg.Scheduler.JitterMax(),
		CheckTimeout:  cfg.Scheduler.CheckTimeout(),
		LockTTL:       cfg.Scheduler.LockTTL(),
	})

	handlers := api.NewHandlers(svc, store, cfg.Corpus.SnapshotPath)
	if archive != nil {
		handlers.SetArchive(archive)
	}

	// Start the check scheduler (polls for due agents, bounded pool).
	scheduler := worker.NewCheckScheduler(svc, cfg.Scheduler.PollInterval(), cfg.Scheduler.MaxConcurrentChecks)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start check scheduler: %v", err)
	}
	handlers.SetScanner(scheduler)
	log.Printf("Check Scheduler started (interval: %v, poll: %v, pool: %d)",
		cfg.Scheduler.Interval(), cfg.Scheduler.PollInterval(), cfg.Scheduler.MaxConcurrentChecks)

	// CRM delivery worker - always run if the CRM endpoint is configured
	var crmWorker *worker.CRMSyncWorker
	if cfg.CRM.BaseURL != "" && cfg.CRM.APIKey != "" {
		log.Println("Initializing CRM delivery...")

		mapper, err := crm.NewMapper(cfg.CRM.FieldMapping)
		if err != nil {
			log.Fatalf("Invalid CRM field mapping: %v", err)
		}
		transformer := crm.NewTransformer(mapper, cfg.CRM.PipelineID, cfg.CRM.StageID)
		crmClient := crm.NewClient(cfg.CRM)

		crmWorker = worker.NewCRMSyncWorker(queue, crmClient, transformer, cfg.CRM.PollInterval(), cfg.CRM.MaxParallel)

		if cfg.Notify.Enabled && cfg.Notify.FromEmail != "" {
			notifier, err := notify.NewNotifier(ctx, cfg.Notify, lookup)
			if err != nil {
				log.Printf("Warning: Failed to initialize SES notifier: %v", err)
			} else {
				crmWorker.SetNotifier(notifier)
				log.Printf("Match alerts enabled (from: %s)", cfg.Notify.FromEmail)
			}
		} else {
			log.Println("Match alerts not configured (missing from_email or disabled)")
		}

		if err := crmWorker.Start(); err != nil {
			log.Fatalf("Failed to start CRM sync worker: %v", err)
		}
		handlers.SetCRMStatus(crmWorker)
		log.Printf("CRM Sync Worker started (poll: %v, parallel: %d)", cfg.CRM.PollInterval(), cfg.CRM.MaxParallel)
	} else {
		log.Println("CRM delivery not configured (missing base_url or api_key) — outbox events will accumulate as queued")
	}

	// Criteria advisor - conversational criteria refinement over Bedrock
	if cfg.Advisor.Enabled {
		adv, err := advisor.New(ctx, cfg.Advisor)
		if err != nil {
			log.Printf("Warning: Failed to initialize criteria advisor: %v", err)
		} else {
			handlers.SetAdviser(adv)
			log.Printf("Criteria advisor initialized (model: %s)", cfg.Advisor.ModelID)
		}
	} else {
		log.Println("Criteria advisor not configured (disabled)")
	}

	server := api.NewServer(cfg.Server, handlers)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	// Stop accepting requests first, then drain the workers so in-flight
	// checks commit their results before the process exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	scheduler.Stop()
	if crmWorker != nil {
		crmWorker.Stop()
	}
	cancel()

	if redisClient != nil {
		redisClient.Close()
	}
	if db != nil {
		db.Close()
	}

	log.Println("Server stopped")
}
