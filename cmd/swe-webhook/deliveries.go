package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cexll/swe-action/internal/deliverystore"
	"github.com/cexll/swe-action/internal/dispatcher"
)

// recordingQueue records every delivery the dispatcher accepts.
type recordingQueue struct {
	jobs  *dispatcher.Dispatcher
	store *deliverystore.Store
}

func (q *recordingQueue) Enqueue(job *dispatcher.Job) error {
	// record first so the run cannot finish before it is known
	q.store.Queued(job.DeliveryID, job.Event.Name, job.Key)
	if err := q.jobs.Enqueue(job); err != nil {
		q.store.Finished(job.DeliveryID, nil, err)
		return err
	}
	return nil
}

type deliveryHandler struct {
	store *deliverystore.Store
}

func (h *deliveryHandler) registerRoutes(r *mux.Router) {
	r.HandleFunc("/deliveries", h.list).Methods("GET")
	r.HandleFunc("/deliveries/{id}", h.detail).Methods("GET")
}

func (h *deliveryHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.List())
}

func (h *deliveryHandler) detail(w http.ResponseWriter, r *http.Request) {
	d, ok := h.store.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Delivery not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
