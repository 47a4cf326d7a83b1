package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClementSutjiatma/niche/internal/config"
	"github.com/ClementSutjiatma/niche/internal/notify"
	"github.com/ClementSutjiatma/niche/internal/service"
	"github.com/ClementSutjiatma/niche/internal/store"
	"github.com/ClementSutjiatma/niche/internal/transfer"
)

// Batch size per sweep pass. Expiry is also applied lazily on every read, so
// the sweeper only has to keep the backlog of untouched escrows bounded.
const sweepBatch = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer st.Db.Close()

	var transfers transfer.Client
	if cfg.CustodyURL != "" {
		transfers = transfer.NewHTTPClient(cfg.CustodyURL, cfg.CustodyToken, 10*time.Second)
	} else {
		log.Println("CUSTODY_URL not set, using in-process transfer simulator")
		transfers = transfer.NewSimulator()
	}

	sink := notify.LogSink()
	if cfg.WebhookURL != "" {
		sink = notify.WebhookSink(cfg.WebhookURL)
	}
	queue := notify.NewQueue(sink, 0)
	queue.Start()
	defer queue.Close()

	exec := service.NewExecutor(st, transfers, queue, cfg.HoldingAccount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	log.Printf("Sweeper running every %s", cfg.SweepInterval)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SweepInterval)
		n, err := exec.ExpireDue(ctx, sweepBatch)
		cancel()
		if err != nil {
			log.Printf("Sweep error after %d expirations: %v", n, err)
		} else if n > 0 {
			log.Printf("Expired %d lapsed deposits", n)
		}

		select {
		case <-ticker.C:
		case <-stop:
			log.Println("Shutting down")
			return
		}
	}
}
