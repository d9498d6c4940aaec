package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/classifieds-negotiation/internal/config"
	"github.com/hackgods/classifieds-negotiation/internal/db"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("expiry-worker starting up")

	once := flag.Bool("once", false, "sweep a single time and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running expiry worker in env=%s interval=%s offer_ttl=%s", cfg.Env, cfg.WorkerInterval, cfg.OfferTTL)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{AppName: "expiry-worker", MaxConns: int32(cfg.PostgresMaxConn)})
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	svc := offer.NewService(offer.NewPgRepository(pgPool), cfg)

	runOnce(rootCtx, svc)
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

// runOnce expires every pending offer whose deadline has passed.
func runOnce(ctx context.Context, svc *offer.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.SweepExpired(runCtx, time.Now())
	if err != nil {
		log.Printf("expiry sweep error: %v", err)
		return
	}
	log.Printf("expiry sweep complete expired=%d duration=%s", n, time.Since(start))
}
