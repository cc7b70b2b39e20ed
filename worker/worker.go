// Package worker runs the bulk-refresh job: it subscribes to refresh
// requests on NATS and periodically publishes one itself, so an external
// scheduler can also trigger runs by publishing to the same subject.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"price-tracker-service/cache"
	"price-tracker-service/config"
	"price-tracker-service/metrics"
	"price-tracker-service/model"
)

const (
	SubjectRefreshRequest = "products.refresh.request"
	SubjectRefreshResult  = "products.refresh.result"
)

// StaleLister enumerates the keys of records that predate a cutoff.
type StaleLister interface {
	StaleKeys(ctx context.Context, cutoff time.Time) ([]model.FetchKey, error)
}

// Worker consumes refresh requests and runs them through the coordinator.
type Worker struct {
	config      *config.Config
	natsConn    *nats.Conn
	coordinator *cache.Coordinator
	store       StaleLister
	cancelFunc  context.CancelFunc
}

// NewWorker connects to NATS and prepares the refresh worker.
func NewWorker(cfg *config.Config, coordinator *cache.Coordinator, store StaleLister) (*Worker, error) {
	nc, err := nats.Connect(cfg.NATSUrl)
	if err != nil {
		return nil, err
	}

	return &Worker{
		config:      cfg,
		natsConn:    nc,
		coordinator: coordinator,
		store:       store,
	}, nil
}

// Start subscribes to refresh requests and launches the periodic scheduler.
func (w *Worker) Start(ctx context.Context) error {
	log.Println("Starting refresh worker...")

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	_, err := w.natsConn.Subscribe(SubjectRefreshRequest, func(msg *nats.Msg) {
		w.handleRefreshRequest(workerCtx, msg)
	})
	if err != nil {
		return err
	}

	log.Printf("Successfully subscribed to %s", SubjectRefreshRequest)

	go w.startScheduler(workerCtx)

	log.Println("Refresh worker started successfully")
	return nil
}

// Stop cancels in-progress work and closes the NATS connection.
func (w *Worker) Stop() {
	log.Println("Stopping refresh worker...")
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.natsConn != nil {
		w.natsConn.Close()
	}
}

func (w *Worker) handleRefreshRequest(ctx context.Context, msg *nats.Msg) {
	var req model.RefreshRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		metrics.NatsMessagesReceived.WithLabelValues(SubjectRefreshRequest, "error").Inc()
		log.Printf("[ERROR] failed to unmarshal refresh request: %v", err)
		return
	}
	metrics.NatsMessagesReceived.WithLabelValues(SubjectRefreshRequest, "ok").Inc()

	keys := req.Keys
	if len(keys) == 0 {
		var err error
		keys, err = w.store.StaleKeys(ctx, w.coordinator.StaleCutoff())
		if err != nil {
			log.Printf("[ERROR] failed to enumerate stale products: %v", err)
			return
		}
	}

	log.Printf("Processing refresh request %s for %d products", req.RequestID, len(keys))

	summary := w.coordinator.RefreshBatch(ctx, keys, w.config.RefreshParallelism)
	summary.RequestID = req.RequestID

	data, _ := json.Marshal(summary)
	if err := w.natsConn.Publish(SubjectRefreshResult, data); err != nil {
		log.Printf("[ERROR] failed to publish refresh result: %v", err)
	}

	log.Printf("Completed refresh request %s: %d succeeded, %d failed",
		req.RequestID, summary.Succeeded, summary.Failed)
}

func (w *Worker) startScheduler(ctx context.Context) {
	log.Println("Refresh scheduler started on this instance")

	ticker := time.NewTicker(w.config.RefreshInterval)
	defer ticker.Stop()

	// Initial run shortly after startup so a long-stopped instance catches up.
	w.publishRefreshRequest()

	for {
		select {
		case <-ctx.Done():
			log.Println("Refresh scheduler stopped")
			return
		case <-ticker.C:
			log.Println("Triggering scheduled product refresh")
			w.publishRefreshRequest()
		}
	}
}

func (w *Worker) publishRefreshRequest() {
	req := model.RefreshRequest{
		RequestID: time.Now().UTC().Format("20060102-150405"),
	}
	data, _ := json.Marshal(req)
	if err := w.natsConn.Publish(SubjectRefreshRequest, data); err != nil {
		log.Printf("[ERROR] failed to publish refresh request: %v", err)
	}
}
