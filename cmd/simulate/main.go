// Command simulate drives concurrent negotiations against a running
// api-server and reports how often racing responses and double scheduling
// were correctly rejected.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/classifieds-negotiation/internal/config"
	"github.com/hackgods/classifieds-negotiation/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	ReadRatio    float64
	ListingLimit int
	PostgresDSN  string
}

type listingRef struct {
	ID       string
	SellerID string
}

type Simulator struct {
	config   SimConfig
	listings []listingRef
	client   *http.Client
	metrics  Metrics
}

type result struct {
	status  int
	latency time.Duration
	body    map[string]any
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d read=%.2f", cfg.Duration, cfg.Workers, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "simulate", MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	listings, err := loadListings(ctx, pgPool, cfg.ListingLimit)
	if err != nil {
		log.Fatalf("load listings: %v", err)
	}
	log.Printf("loaded: %d listings", len(listings))

	sim := &Simulator{
		config:   cfg,
		listings: listings,
		client:   &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.metrics.Print(cfg)
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		ListingLimit: getInt("SIM_LISTING_LIMIT", 2000),
		PostgresDSN:  baseCfg.PostgresDSN,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.ReadRatio < 0 || cfg.ReadRatio > 1 {
		return fmt.Errorf("SIM_READ_RATIO must be within [0, 1]")
	}
	return nil
}

func loadListings(ctx context.Context, pool *pgxpool.Pool, limit int) ([]listingRef, error) {
	rows, err := pool.Query(ctx, `SELECT id, seller_id FROM listings LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []listingRef
	for rows.Next() {
		var l listingRef
		if err := rows.Scan(&l.ID, &l.SellerID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no listings loaded, run cmd/seed first")
	}
	return out, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		l := s.listings[rng.Intn(len(s.listings))]
		if rng.Float64() < s.config.ReadRatio {
			r, err := s.call(ctx, http.MethodGet, "/listings/"+l.ID+"/offers", nil)
			s.metrics.ListOffers.Record(r.latency, err == nil && r.status == http.StatusOK, false)
			continue
		}
		s.negotiate(ctx, rng, l)
	}
}

// negotiate opens an offer, races an accept against a reject, and if the
// accept wins races two scheduling requests for the same offer.
func (s *Simulator) negotiate(ctx context.Context, rng *rand.Rand, l listingRef) {
	buyerID := "buyer-" + uuid.NewString()
	created, err := s.call(ctx, http.MethodPost, "/listings/"+l.ID+"/offers", map[string]any{
		"buyer_id":   buyerID,
		"buyer_name": gofakeit.Name(),
		"amount":     rng.Int63n(100000) + 100,
		"message":    gofakeit.Phrase(),
	})
	s.metrics.CreateOffer.Record(created.latency, err == nil && created.status == http.StatusCreated, created.status == http.StatusConflict)
	if err != nil || created.status != http.StatusCreated {
		return
	}
	offerPath := fmt.Sprintf("/offers/%v", created.body["id"])

	sellerBody := map[string]any{"seller_id": l.SellerID}
	results := s.race(ctx, []string{offerPath + "/accept", offerPath + "/reject"}, func(int) any { return sellerBody })
	s.tally(&s.metrics.Respond, results)
	if results[0].status != http.StatusOK {
		return
	}

	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	durations := []int{15, 30, 60, 120}
	s.tally(&s.metrics.Schedule, s.race(ctx, []string{offerPath + "/appointments", offerPath + "/appointments"}, func(int) any {
		return map[string]any{
			"seller_id":    l.SellerID,
			"date":         tomorrow,
			"time":         fmt.Sprintf("%02d:%02d", 9+rng.Intn(10), 15*rng.Intn(4)),
			"duration":     durations[rng.Intn(len(durations))],
			"address":      gofakeit.Street() + ", " + gofakeit.City(),
			"meeting_type": "public_place",
		}
	}))
}

// race fires the requests at once and returns their results in order.
func (s *Simulator) race(ctx context.Context, paths []string, body func(i int) any) []result {
	bodies := make([]any, len(paths))
	for i := range paths {
		bodies[i] = body(i)
	}

	results := make([]result, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			r, _ := s.call(ctx, http.MethodPost, p, bodies[i])
			results[i] = r
		}(i, p)
	}
	wg.Wait()
	return results
}

// tally records each contender and counts more than one winner as a violation.
func (s *Simulator) tally(om *OperationMetrics, results []result) {
	wins := 0
	for _, r := range results {
		ok := r.status == http.StatusOK || r.status == http.StatusCreated
		if ok {
			wins++
		}
		om.Record(r.latency, ok, r.status == http.StatusConflict)
	}
	if wins > 1 {
		atomic.AddInt64(&s.metrics.Violations, 1)
		log.Printf("race violation: %d contenders succeeded", wins)
	}
}

func (s *Simulator) call(ctx context.Context, method, path string, body any) (result, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return result{}, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	r := result{latency: time.Since(start)}
	if err != nil {
		return r, err
	}
	defer resp.Body.Close()

	r.status = resp.StatusCode
	_ = json.NewDecoder(resp.Body).Decode(&r.body)
	return r, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
