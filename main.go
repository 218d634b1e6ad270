package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"match-wager-system/handlers"
	"match-wager-system/middleware"
	"match-wager-system/models"
	"match-wager-system/services"
	"match-wager-system/utils"
	"match-wager-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.WagerMatch{},
		&models.TrustProfile{},
		&models.TrustLedgerEntry{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		log.Println("⚠️  REDIS_ADDR not set, using default: localhost:6379")
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	if err := utils.InitArchive(); err != nil {
		log.Fatal("failed to initialize settlement archive:", err)
	}

	walletURL := os.Getenv("WALLET_SERVICE_URL")
	if walletURL == "" {
		log.Fatal("WALLET_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("MATCH_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("MATCH_SERVICE_TOKEN environment variable not set")
	}
	escrow := services.NewEscrowServiceClient(walletURL, serviceToken)

	queue := services.NewSeekQueue(rdb, envDuration("SEEK_TTL", services.DefaultSeekTTL))
	trustService := services.NewTrustService(db)
	events := services.NewMatchEventEmitter(rdb)
	matchService := services.NewMatchService(db, escrow, trustService, events)
	matchService.ReadyWindow = envDuration("MATCH_READY_WINDOW", services.DefaultReadyWindow)
	matchService.ReportWindow = envDuration("MATCH_REPORT_WINDOW", services.DefaultReportWindow)
	matchmaker := services.NewMatchmaker(queue, matchService, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go workers.RunMatchmaker(ctx, matchmaker, envDuration("MATCH_TICK", workers.DefaultMatchInterval))

	sweeper, err := matchService.StartLifecycleSweeper(envDuration("SWEEP_TICK", services.DefaultSweepInterval))
	if err != nil {
		log.Fatal("failed to start lifecycle sweeper:", err)
	}
	defer func() { _ = sweeper.Shutdown() }()

	// ✅ Setup routes — enforced Gateway auth + consistent /s/ prefix
	handlers.SetupMatchRoutes(app, queue, matchService, trustService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Matchmaker loop running")
	log.Println("✅ Lifecycle sweeper running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
}

// envDuration reads a duration from the environment, falling back to def.
// Bounded loops only: non-positive values fall back as well.
func envDuration(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("⚠️  Invalid %s=%q, using default %s", name, raw, def)
		return def
	}
	return d
}
