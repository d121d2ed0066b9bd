// Package webhook receives GitHub webhook deliveries, verifies them, and
// queues each accepted delivery once for a pipeline run.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cexll/swe-action/internal/dispatcher"
	"github.com/cexll/swe-action/internal/github"
	"github.com/cexll/swe-action/internal/github/validation"
	"github.com/cexll/swe-action/internal/pipeline"
)

const maxPayloadBytes = 25 << 20

// Queue accepts verified deliveries.
type Queue interface {
	Enqueue(job *dispatcher.Job) error
}

// DeliveryObserver counts deliveries by handling result.
type DeliveryObserver interface {
	ObserveDelivery(event, result string)
}

// Delivery handling results reported to the observer.
const (
	ResultQueued           = "queued"
	ResultDuplicate        = "duplicate"
	ResultBot              = "bot"
	ResultIgnored          = "ignored"
	ResultInvalidSignature = "invalid_signature"
	ResultMalformed        = "malformed"
	ResultRejected         = "rejected"
)

// Handler handles GitHub webhook deliveries.
type Handler struct {
	webhookSecret string
	queue         Queue
	deliveries    *deliveryDeduper
	observer      DeliveryObserver
}

// NewHandler creates a handler; delivery ids are remembered for dedupeTTL.
func NewHandler(webhookSecret string, queue Queue, dedupeTTL time.Duration) *Handler {
	return &Handler{
		webhookSecret: webhookSecret,
		queue:         queue,
		deliveries:    newDeliveryDeduper(dedupeTTL),
	}
}

// WithObserver sets the delivery observer.
func (h *Handler) WithObserver(o DeliveryObserver) *Handler {
	h.observer = o
	return h
}

func (h *Handler) observe(event, result string) {
	if h.observer != nil {
		h.observer.ObserveDelivery(event, result)
	}
}

// envelope is the part of every supported payload needed before queueing.
type envelope struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"sender"`
	Issue *struct {
		Number int `json:"number"`
	} `json:"issue"`
	PullRequest *struct {
		Number int `json:"number"`
	} `json:"pull_request"`
}

func (e *envelope) number() int {
	if e.Issue != nil && e.Issue.Number > 0 {
		return e.Issue.Number
	}
	if e.PullRequest != nil {
		return e.PullRequest.Number
	}
	return 0
}

// Handle handles POST /webhook.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	// 1. Read payload
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		log.Printf("[Webhook] Error reading payload: %v", err)
		http.Error(w, "Error reading payload", http.StatusBadRequest)
		return
	}

	// 2. Verify signature
	eventType := r.Header.Get("X-GitHub-Event")
	if err := VerifySignature(payload, r.Header.Get("X-Hub-Signature-256"), h.webhookSecret); err != nil {
		log.Printf("[Webhook] Signature verification failed: %v", err)
		h.observe(eventType, ResultInvalidSignature)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	// 3. Determine event type
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if eventType == "ping" {
		h.observe(eventType, ResultIgnored)
		writeText(w, http.StatusOK, "pong")
		return
	}
	if !supported(eventType) {
		log.Printf("[Webhook] Ignoring unsupported event type: %s", eventType)
		h.observe(eventType, ResultIgnored)
		writeText(w, http.StatusOK, "Event ignored")
		return
	}
	if deliveryID == "" {
		h.observe(eventType, ResultMalformed)
		http.Error(w, "Missing X-GitHub-Delivery header", http.StatusBadRequest)
		return
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("[Webhook] Error parsing %s delivery %s: %v", eventType, deliveryID, err)
		h.observe(eventType, ResultMalformed)
		http.Error(w, "Error parsing event", http.StatusBadRequest)
		return
	}
	number := env.number()
	if env.Repository.FullName == "" || number == 0 {
		h.observe(eventType, ResultMalformed)
		http.Error(w, "Event has no repository or entity number", http.StatusBadRequest)
		return
	}

	// 4. Drop bot senders before anything is queued (prevents comment loops).
	// The pipeline still runs its own permission and human-actor gates.
	if env.Sender.Type == "Bot" || validation.IsBotLogin(env.Sender.Login) {
		log.Printf("[Webhook] Ignoring delivery %s from bot: %s", deliveryID, env.Sender.Login)
		h.observe(eventType, ResultBot)
		writeText(w, http.StatusOK, "Bot event ignored")
		return
	}

	// 5. Exactly once per delivery id
	if !h.deliveries.markIfNew(deliveryID) {
		log.Printf("[Webhook] Ignoring duplicate delivery: %s", deliveryID)
		h.observe(eventType, ResultDuplicate)
		writeText(w, http.StatusOK, "Duplicate delivery ignored")
		return
	}

	job := &dispatcher.Job{
		DeliveryID: deliveryID,
		Key:        fmt.Sprintf("%s#%d", env.Repository.FullName, number),
		Event: pipeline.Event{
			Name:       eventType,
			Payload:    payload,
			Repository: env.Repository.FullName,
		},
	}
	if err := h.queue.Enqueue(job); err != nil {
		// not accepted: a redelivery must be able to get through
		h.deliveries.forget(deliveryID)
		log.Printf("[Webhook] Failed to enqueue delivery %s: %v", deliveryID, err)
		h.observe(eventType, ResultRejected)
		status := http.StatusInternalServerError
		if errors.Is(err, dispatcher.ErrQueueFull) || errors.Is(err, dispatcher.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "Failed to enqueue", status)
		return
	}

	log.Printf("[Webhook] Queued %s delivery %s for %s", eventType, deliveryID, job.Key)
	h.observe(eventType, ResultQueued)
	writeText(w, http.StatusAccepted, "Delivery queued")
}

func supported(eventType string) bool {
	switch github.EventType(eventType) {
	case github.EventIssueComment, github.EventIssues, github.EventPullRequest,
		github.EventPullRequestTarget, github.EventPullRequestReview, github.EventPullRequestReviewComment:
		return true
	}
	return false
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
