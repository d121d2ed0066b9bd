package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/cexll/swe-action/internal/actions"
	"github.com/cexll/swe-action/internal/config"
	"github.com/cexll/swe-action/internal/deliverystore"
	"github.com/cexll/swe-action/internal/dispatcher"
	"github.com/cexll/swe-action/internal/metrics"
	"github.com/cexll/swe-action/internal/pipeline"
	"github.com/cexll/swe-action/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

var (
	loadDotEnv         = godotenv.Load
	newPipeline        = pipeline.New
	newDispatcher      = dispatcher.New
	newDeliveryStore   = deliverystore.NewStore
	defaultListenServe = http.ListenAndServe
)

func main() {
	if err := run(context.Background(), defaultListenServe); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, serve func(string, http.Handler) error) error {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	// Load configuration
	cfg, err := config.LoadWebhook()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Printf("Starting swe-webhook...")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Trigger phrase: %s", cfg.TriggerPhrase)
	if cfg.UsesApp() {
		log.Printf("GitHub App ID: %s", cfg.GitHubAppID)
	}
	log.Printf("Dispatcher workers: %d, queue size: %d", cfg.DispatcherWorkers, cfg.DispatcherQueueSize)

	auth := pipeline.NewAuth(cfg.Credentials, cfg.APIURL, cfg.CallTimeout)

	// In-memory delivery history for /deliveries
	deliveries := newDeliveryStore(0)
	recorder := metrics.NewRecorder()

	// Prepare only: each delivery gets a fresh pipeline that posts the tracking
	// comment and resolves the branch. The hand-off goes to the log and to
	// /deliveries; nothing here launches the agent.
	runner := dispatcher.RunnerFunc(func(ctx context.Context, job *dispatcher.Job) (*pipeline.Report, error) {
		deliveries.Started(job.DeliveryID)
		start := time.Now()
		p := newPipeline(pipeline.Deps{
			Auth:    auth,
			Outputs: &actions.LogOutputs{Prefix: "Delivery " + job.DeliveryID},
			Config:  cfg.Pipeline,
		})
		report, err := p.Run(ctx, job.Event)
		deliveries.Finished(job.DeliveryID, report, err)
		recorder.ObserveRun(report, err, time.Since(start))
		return report, err
	})

	jobs := newDispatcher(runner, dispatcher.Config{
		Workers:    cfg.DispatcherWorkers,
		QueueSize:  cfg.DispatcherQueueSize,
		JobTimeout: cfg.JobTimeout,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		jobs.Shutdown(shutdownCtx)
	}()

	handler := webhook.NewHandler(cfg.GitHubWebhookSecret, &recordingQueue{jobs: jobs, store: deliveries}, cfg.DedupeTTL).
		WithObserver(recorder)

	// Setup router
	r := mux.NewRouter()

	// Webhook endpoint
	r.HandleFunc("/webhook", handler.Handle).Methods("POST")

	// Delivery history endpoints
	(&deliveryHandler{store: deliveries}).registerRoutes(r)

	// Prometheus metrics
	r.Handle("/metrics", recorder.Handler()).Methods("GET")

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Root endpoint with info
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"service":"swe-webhook","status":"running","trigger":%q}`, cfg.TriggerPhrase)
	}).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Webhook endpoint: http://localhost%s/webhook", addr)
	log.Printf("Health check: http://localhost%s/health", addr)
	log.Printf("Deliveries: http://localhost%s/deliveries", addr)
	log.Printf("Metrics: http://localhost%s/metrics", addr)

	if err := serve(addr, r); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}
