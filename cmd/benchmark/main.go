package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ClementSutjiatma/niche/internal/auth"
)

// Config holds the benchmark settings
var (
	targetURL   string
	dbSource    string
	jwtSecret   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	cyclesDone    uint64 // Full deposit->release cycles
	fail409       uint64 // Conflicts (losers of deposit/accept races)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&dbSource, "db", os.Getenv("DB_SOURCE"), "Postgres connection string for seeding listings")
	flag.StringVar(&jwtSecret, "secret", os.Getenv("JWT_SECRET"), "Shared HMAC secret used to mint bearer tokens")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	if dbSource == "" || jwtSecret == "" {
		log.Fatal("both -db and -secret (or DB_SOURCE / JWT_SECRET) are required")
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	pool, err := pgxpool.New(context.Background(), dbSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	authn := auth.NewAuthenticator(auth.Config{HMACSecret: jwtSecret})

	// Hotspot: everyone fights over one listing per round. Uniform: each
	// worker cycles through its own listings with no cross-worker contention.
	var hotListing atomic.Value
	if workload == "hotspot" {
		go func() {
			for {
				id, seller, err := createListing(pool)
				if err != nil {
					log.Fatalf("Listing seed failed: %v", err)
				}
				hotListing.Store(benchListing{ID: id, SellerID: seller})
				time.Sleep(500 * time.Millisecond)
			}
		}()
		for hotListing.Load() == nil {
			time.Sleep(10 * time.Millisecond)
		}
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, pool, authn, &hotListing, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

type benchListing struct {
	ID       uuid.UUID
	SellerID uuid.UUID
}

const listingPrice = 100000 // $1,000.00

func createListing(pool *pgxpool.Pool) (uuid.UUID, uuid.UUID, error) {
	id, seller := uuid.New(), uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO listings (id, seller_id, item_name, category, price, min_deposit, status)
         VALUES ($1, $2, $3, 'bench', $4, $5, 'active')`,
		id, seller, "bench-"+id.String()[:8], listingPrice, listingPrice/10)
	return id, seller, err
}

func worker(wg *sync.WaitGroup, pool *pgxpool.Pool, authn *auth.Authenticator, hot *atomic.Value, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		var l benchListing
		if workload == "hotspot" {
			l = hot.Load().(benchListing)
		} else {
			id, seller, err := createListing(pool)
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				continue
			}
			l = benchListing{ID: id, SellerID: seller}
		}

		buyer := uuid.New()
		buyerToken, _ := authn.Sign(buyer, time.Hour)
		sellerToken, _ := authn.Sign(l.SellerID, time.Hour)

		escrowID, code := openDeposit(client, buyerToken, l.ID)
		if code == 409 {
			atomic.AddUint64(&fail409, 1)
			continue
		}
		if code != 201 {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		// Walk the happy path to release.
		steps := []struct {
			path, token, body string
		}{
			{"accept", sellerToken, ""},
			{"confirm", buyerToken, `{"payment_ref":"bench-remaining"}`},
			{"confirm", sellerToken, ""},
		}
		ok := true
		for _, s := range steps {
			if c := post(client, s.token, fmt.Sprintf("/api/v1/escrows/%s/%s", escrowID, s.path), s.body, ""); c != 200 {
				if c == 409 {
					atomic.AddUint64(&fail409, 1)
				} else {
					atomic.AddUint64(&failOther, 1)
				}
				ok = false
				break
			}
		}
		if ok {
			atomic.AddUint64(&cyclesDone, 1)
		}
	}
}

func openDeposit(client *http.Client, token string, listingID uuid.UUID) (string, int) {
	payload := map[string]interface{}{
		"listing_id":     listingID,
		"deposit_amount": listingPrice / 10,
		"total_price":    listingPrice,
		"deposit_ref":    fmt.Sprintf("bench-dep-%d", time.Now().UnixNano()),
	}
	body, _ := json.Marshal(payload)

	key := fmt.Sprintf("bench-%s-%d", listingID, time.Now().UnixNano())
	req, _ := http.NewRequest("POST", targetURL+"/api/v1/escrows", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", key)

	resp, err := client.Do(req)
	if err != nil {
		return "", 0
	}
	defer resp.Body.Close()
	atomic.AddUint64(&totalRequests, 1)

	if resp.StatusCode != 201 {
		return "", resp.StatusCode
	}
	var out struct {
		Escrow struct {
			ID string `json:"id"`
		} `json:"escrow"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0
	}
	return out.Escrow.ID, resp.StatusCode
}

func post(client *http.Client, token, path, body, key string) int {
	req, _ := http.NewRequest("POST", targetURL+path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	resp.Body.Close()
	atomic.AddUint64(&totalRequests, 1)
	return resp.StatusCode
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	cycles := atomic.LoadUint64(&cyclesDone)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	abortRate := float64(f409) / float64(total) * 100

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"full_cycles":     cycles,
		"aborts_conflict": f409,
		"abort_rate_pct":  abortRate,
		"errors":          fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
