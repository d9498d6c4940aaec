package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/classifieds-negotiation/internal/config"
	"github.com/hackgods/classifieds-negotiation/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	sellers := flag.Int("sellers", 200, "number of distinct sellers")
	listings := flag.Int("listings", 5000, "number of listings")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "seed", MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedListings(context.Background(), pool, *sellers, *listings); err != nil {
		log.Fatalf("seed listings: %v", err)
	}

	log.Println("seed complete")
}

func seedListings(ctx context.Context, pool *pgxpool.Pool, sellerCount, count int) error {
	log.Printf("seeding %d listings across %d sellers", count, sellerCount)

	if sellerCount <= 0 {
		sellerCount = 1
	}
	sellers := make([]string, sellerCount)
	for i := range sellers {
		sellers[i] = "seller-" + uuid.NewString()
	}

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			seller := sellers[gofakeit.Number(0, len(sellers)-1)]
			title := gofakeit.ProductName()
			// prices are stored in minor units
			price := int64(gofakeit.Price(5, 2500) * 100)

			_, err := tx.Exec(ctx, `
				INSERT INTO listings (id, seller_id, title, price, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, "listing-"+uuid.NewString(), seller, title, price)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("listings seeded: %d/%d", end, count)
	}

	return nil
}
