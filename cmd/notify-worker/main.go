package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/classifieds-negotiation/internal/appointment"
	"github.com/hackgods/classifieds-negotiation/internal/config"
	"github.com/hackgods/classifieds-negotiation/internal/db"
	"github.com/hackgods/classifieds-negotiation/internal/notify"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
	redisclient "github.com/hackgods/classifieds-negotiation/internal/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("notify-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running notify worker in env=%s exchange=%s queue=%s", cfg.Env, cfg.NotifyExchange, cfg.NotifyQueue)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{AppName: "notify-worker", MaxConns: int32(cfg.PostgresMaxConn)})
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// only RecordDelivery is used here, so scheduling locks stay local
	offers := offer.NewService(offer.NewPgRepository(pgPool), cfg)
	appointments := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		offers,
		redisclient.NewLocalLocker(),
		notify.Discard,
		cfg,
	)

	// deliveries go to the process log; each one still sets the appointment's flags
	consumer := notify.NewConsumer(notify.ConsumerConfig{
		RabbitURL: cfg.RabbitURL,
		Exchange:  cfg.NotifyExchange,
		Queue:     cfg.NotifyQueue,
	}, notify.LogDispatcher{}, appointments)

	if err := consumer.Connect(); err != nil {
		log.Fatalf("rabbitmq connection error: %v", err)
	}
	defer consumer.Close()
	log.Println("connected to RabbitMQ")

	if err := consumer.Run(rootCtx); err != nil {
		log.Printf("consumer stopped: %v", err)
	}
	log.Println("shutting down notify-worker")
}
