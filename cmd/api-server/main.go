package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/classifieds-negotiation/internal/api"
	"github.com/hackgods/classifieds-negotiation/internal/appointment"
	"github.com/hackgods/classifieds-negotiation/internal/config"
	"github.com/hackgods/classifieds-negotiation/internal/db"
	"github.com/hackgods/classifieds-negotiation/internal/listing"
	"github.com/hackgods/classifieds-negotiation/internal/negotiation"
	"github.com/hackgods/classifieds-negotiation/internal/notify"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
	redisclient "github.com/hackgods/classifieds-negotiation/internal/redis"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s offer_ttl=%s lock_ttl=%s", cfg.Env, cfg.HTTPPort, cfg.OfferTTL, cfg.LockTTL)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{AppName: "api-server", MaxConns: int32(cfg.PostgresMaxConn)})
	if err == nil {
		err = db.Migrate(pgCtx, pgPool)
	}
	cancelPg()
	if err != nil {
		log.Fatalf("postgres setup error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	publisher, err := notify.NewAMQPDispatcher(cfg.RabbitURL, cfg.NotifyExchange)
	if err != nil {
		log.Fatalf("rabbitmq connection error: %v", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Printf("error closing rabbitmq publisher: %v", err)
		}
	}()

	// requests never wait on the broker
	queue := notify.NewQueue(publisher, cfg.NotifyQueueSize)
	queue.Start(2)
	defer queue.Close()

	offers := offer.NewService(offer.NewPgRepository(pgPool), cfg)
	appointments := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		offers,
		redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		queue,
		cfg,
	)
	coord := negotiation.NewCoordinator(offers, appointments, listing.NewPgReader(pgPool), queue)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Coordinator:  coord,
			Offers:       offers,
			Appointments: appointments,
			PgPool:       pgPool,
			Redis:        rdb,
			Env:          cfg.Env,
			Version:      version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
}
