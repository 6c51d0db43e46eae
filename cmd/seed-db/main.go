package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/foodorder/internal/auth"
	"github.com/xenking/foodorder/internal/domain/catalog"
	"github.com/xenking/foodorder/internal/domain/coupon"
	"github.com/xenking/foodorder/internal/repository"
)

func main() {
	var (
		databaseURL  string
		branchID     int64
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Int64Var(&branchID, "branch-id", 1, "branch the sample menu and coupon belong to")
	flag.StringVar(&apiKey, "api-key", "", "notify API key for the payment consumer (or FOOD_NOTIFY_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or FOOD_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("FOOD_NOTIFY_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or FOOD_NOTIFY_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("FOOD_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, branchID, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, branchID int64, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	applied, err := repository.RunMigrations(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "run migrations")
	}
	slog.Info("migrations done", slog.Any("applied", applied))

	if err := seedFoods(ctx, pool, branchID); err != nil {
		return errors.Wrap(err, "seed foods")
	}

	if err := seedCoupons(ctx, pool, branchID, time.Now()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedFoods(ctx context.Context, pool *pgxpool.Pool, branchID int64) error {
	foods := []catalog.Food{
		{ID: 1, BranchID: branchID, Name: "Phở Bò Tái", Price: decimal.NewFromInt(50000), Available: true},
		{ID: 2, BranchID: branchID, Name: "Bún Chả Hà Nội", Price: decimal.NewFromInt(45000), DiscountPercent: decimal.NewFromInt(10), Available: true},
		{ID: 3, BranchID: branchID, Name: "Trà Sữa Trân Châu", Price: decimal.NewFromInt(25000), Available: true},
	}

	slog.Info("upserting foods", slog.Int("count", len(foods)), slog.Int64("branch_id", branchID))

	if err := repository.NewFoodRepository(pool).Upsert(ctx, foods); err != nil {
		return err
	}

	for _, f := range foods {
		slog.Info("upserted food", slog.Int64("id", f.ID), slog.String("name", f.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, branchID int64, now time.Time) error {
	slog.Info("seeding sample coupons")

	coupons := []coupon.Coupon{
		{
			Code:            "SALE10",
			BranchID:        branchID,
			DiscountPercent: decimal.NewFromInt(10),
			ActiveFrom:      now.Add(-24 * time.Hour),
			ActiveTo:        now.AddDate(1, 0, 0),
			Enabled:         true,
		},
	}

	if _, err := repository.NewCouponRepository(pool).Upsert(ctx, coupons); err != nil {
		return err
	}

	for _, c := range coupons {
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("percent", c.DiscountPercent.String()))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding payment consumer API key")

	info := auth.APIKeyInfo{
		ID:      "payment-consumer",
		KeyHash: auth.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Payment event consumer",
		Scopes:  []string{auth.ScopeNotify},
	}
	if err := repository.NewAPIKeyRepository(pool).Save(ctx, info); err != nil {
		return errors.Wrap(err, "save payment consumer API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}
