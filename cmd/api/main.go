package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ClementSutjiatma/niche/internal/api"
	"github.com/ClementSutjiatma/niche/internal/auth"
	"github.com/ClementSutjiatma/niche/internal/config"
	"github.com/ClementSutjiatma/niche/internal/notify"
	"github.com/ClementSutjiatma/niche/internal/service"
	"github.com/ClementSutjiatma/niche/internal/store"
	"github.com/ClementSutjiatma/niche/internal/transfer"
)

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

	if err := st.Init(context.Background()); err != nil {
		log.Fatalf("Schema init failed: %v", err)
	}

	authn := auth.NewAuthenticator(auth.Config{
		HMACSecret: cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
	})

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

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	handler := api.NewHandler(exec, st)
	handler.Register(r, authn)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
