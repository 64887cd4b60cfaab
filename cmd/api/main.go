package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"rentflow/auth"
	"rentflow/booking"
	"rentflow/db"
	"rentflow/dispute"
	"rentflow/evidence"
	"rentflow/operator"
	"rentflow/request"
	"rentflow/storage"
	"rentflow/tool"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	store := storage.NewService(storage.Config{
		Bucket:          os.Getenv("S3_BUCKET"),
		Region:          os.Getenv("S3_REGION"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		PublicURL:       os.Getenv("S3_PUBLIC_URL"),
		PresignTTL:      envDuration("S3_PRESIGN_TTL", 15*time.Minute),
	})

	authService := auth.NewService(auth.NewRepository(pool), os.Getenv("JWT_SECRET"))

	disputeService := dispute.NewService(pool, dispute.NewRepository(pool))
	registrar := dispute.NewRegistrar(disputeService).
		WithVerifier(store).
		WithURLResolver(store)

	uploader := evidence.NewUploader(
		store,
		store,
		storage.NewHTTPUploader(&http.Client{Timeout: 60 * time.Second}),
		registrar,
	)

	bookings := booking.NewRepository(pool)
	operatorService := operator.NewService(pool, bookings, operator.NewAuditLog()).
		WithDisputeResolver(disputeService)

	toolService := tool.NewService(tool.NewRepository(pool))
	requestService := request.NewService(request.NewRepository(pool)).
		WithBookingRepository(bookings)

	log.Printf("rentflow services ready: auth=%t tools=%t requests=%t disputes=%t uploads=%t operator=%t",
		authService != nil, toolService != nil, requestService != nil,
		disputeService != nil, uploader != nil, operatorService != nil)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("invalid %s=%q, using default %s", key, raw, fallback)
	return fallback
}
