package orchestrators

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"studiobook/internal/adapters/email"
	outboxStore "studiobook/internal/adapters/storage/outbox"
	domain "studiobook/internal/domain/outbox"
	"studiobook/internal/domain/pricing"
)

// ReceiptPayload is the JSON structure for a purchase receipt email.
type ReceiptPayload struct {
	To            string `json:"to"`
	BuyerName     string `json:"buyer_name"`
	ProductName   string `json:"product_name"`
	GrandTotal    int64  `json:"grand_total"`
	DiscountTotal int64  `json:"discount_total"`
	SessionID     string `json:"session_id"`
}

// EventRecorder queues the fire-and-forget side effects of a checkout.
// Failures are logged and swallowed: analytics and receipts never block
// the purchase flow.
type EventRecorder interface {
	RecordEvent(ctx context.Context, p EventLogParams)
	EnqueueReceipt(ctx context.Context, r ReceiptPayload)
}

// OutboxRecorder implements EventRecorder by writing durable outbox
// entries, delivered later by the Processor.
type OutboxRecorder struct {
	store outboxStore.Store
}

// NewOutboxRecorder creates a recorder backed by the given store.
func NewOutboxRecorder(store outboxStore.Store) *OutboxRecorder {
	return &OutboxRecorder{store: store}
}

// RecordEvent enqueues an analytics event for delivery.
// POST: Entry saved as pending; errors are logged, never returned
func (r *OutboxRecorder) RecordEvent(ctx context.Context, p EventLogParams) {
	r.enqueue(ctx, domain.ActionTypeEventLog, p)
}

// EnqueueReceipt enqueues a purchase receipt email for delivery.
// POST: Entry saved as pending; errors are logged, never returned
func (r *OutboxRecorder) EnqueueReceipt(ctx context.Context, payload ReceiptPayload) {
	r.enqueue(ctx, domain.ActionTypeReceiptEmail, payload)
}

func (r *OutboxRecorder) enqueue(ctx context.Context, actionType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("outbox_marshal_failed", "action_type", actionType, "error", err.Error())
		return
	}
	entry := domain.Entry{
		ID:          uuid.New().String(),
		ActionType:  actionType,
		Payload:     string(data),
		Status:      domain.StatusPending,
		MaxAttempts: 5,
		CreatedAt:   time.Now(),
	}
	if err := entry.Validate(); err != nil {
		slog.Error("outbox_entry_invalid", "action_type", actionType, "error", err.Error())
		return
	}
	if err := r.store.Save(ctx, entry); err != nil {
		slog.Error("outbox_enqueue_failed", "action_type", actionType, "error", err.Error())
	}
}

// ActionExecutor executes a specific type of deferred external action.
type ActionExecutor interface {
	// Execute runs the external action with the given payload.
	// Returns the external ID (e.g. email message id) and any error.
	Execute(ctx context.Context, payload string) (string, error)
}

// Processor drains the outbox, delivering queued actions with bounded
// exponential backoff between attempts.
type Processor struct {
	store     outboxStore.Store
	executors map[string]ActionExecutor
	baseDelay time.Duration
	maxDelay  time.Duration
	batchSize int
}

// NewProcessor creates a new outbox processor.
func NewProcessor(store outboxStore.Store, executors map[string]ActionExecutor) *Processor {
	return &Processor{
		store:     store,
		executors: executors,
		baseDelay: 30 * time.Second,
		maxDelay:  1 * time.Hour,
		batchSize: 10,
	}
}

// ProcessPending processes pending outbox entries.
// PRE: Context is valid
// POST: Pending entries are processed, failed entries marked for retry
func (p *Processor) ProcessPending(ctx context.Context) error {
	entries, err := p.store.ListPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("list pending outbox entries: %w", err)
	}

	for _, entry := range entries {
		if err := p.processEntry(ctx, entry); err != nil {
			slog.Error("outbox_process_failed", "entry_id", entry.ID, "action_type", entry.ActionType, "error", err.Error())
		}
	}
	return nil
}

// Run drains the outbox on the given interval until ctx is cancelled.
func (p *Processor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.ProcessPending(ctx); err != nil {
				slog.Error("outbox_drain_failed", "error", err.Error())
			}
		}
	}
}

// ProcessSingle forces one entry through delivery immediately, ignoring
// the backoff window. Used by the admin retry surface.
// PRE: entryID exists and the entry can still be retried
func (p *Processor) ProcessSingle(ctx context.Context, entryID string) error {
	entry, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("load outbox entry: %w", err)
	}
	if entry.IsTerminal() {
		return fmt.Errorf("entry %s is already terminal", entryID)
	}
	entry.LastAttemptedAt = time.Time{}
	return p.processEntry(ctx, entry)
}

// AbandonEntry marks an entry as permanently abandoned.
func (p *Processor) AbandonEntry(ctx context.Context, entryID string) error {
	entry, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("load outbox entry: %w", err)
	}
	entry.MarkAbandoned()
	return p.store.Save(ctx, entry)
}

// processEntry processes a single outbox entry.
func (p *Processor) processEntry(ctx context.Context, entry domain.Entry) error {
	// Respect the backoff window since the last attempt
	if !entry.LastAttemptedAt.IsZero() {
		delay := entry.NextRetryDelay(p.baseDelay, p.maxDelay)
		if time.Since(entry.LastAttemptedAt) < delay {
			return nil
		}
	}

	executor, ok := p.executors[entry.ActionType]
	if !ok {
		entry.MarkFailed(fmt.Errorf("no executor registered for action type: %s", entry.ActionType))
		return p.store.Save(ctx, entry)
	}

	entry.MarkAttempt()
	externalID, err := executor.Execute(ctx, entry.Payload)
	if err != nil {
		entry.MarkFailed(err)
		slog.Warn("outbox_action_failed", "entry_id", entry.ID, "attempt", entry.Attempts, "error", err.Error())
	} else {
		entry.MarkSuccess(externalID)
		slog.Info("outbox_action_succeeded", "entry_id", entry.ID, "action_type", entry.ActionType, "external_id", externalID)
	}
	return p.store.Save(ctx, entry)
}

// EventLogExecutor delivers analytics events to the studio backend.
type EventLogExecutor struct {
	API BackendAPI
}

// Execute posts an event log to the backend. A short in-process retry
// smooths over transient blips before the outbox backoff takes over.
// PRE: payload is valid JSON matching EventLogParams
func (e *EventLogExecutor) Execute(ctx context.Context, payload string) (string, error) {
	var p EventLogParams
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", fmt.Errorf("unmarshal event log payload: %w", err)
	}
	err := retry.Do(
		func() error { return e.API.CreateEventLog(ctx, p) },
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("create event log: %w", err)
	}
	return "", nil
}

// ReceiptEmailExecutor delivers purchase receipt emails.
type ReceiptEmailExecutor struct {
	Sender email.Sender
	From   string
}

// Execute sends a receipt email from the payload.
// PRE: payload is valid JSON matching ReceiptPayload
// POST: Returns the provider message id on success
func (e *ReceiptEmailExecutor) Execute(ctx context.Context, payload string) (string, error) {
	var p ReceiptPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", fmt.Errorf("unmarshal receipt payload: %w", err)
	}
	if p.To == "" {
		return "", fmt.Errorf("receipt has no recipient")
	}

	html := fmt.Sprintf(
		"<p>Hi %s,</p><p>Thanks for your purchase of <strong>%s</strong>.</p><p>Total charged: %s",
		p.BuyerName, p.ProductName, pricing.FormatAmount(p.GrandTotal))
	if p.DiscountTotal > 0 {
		html += fmt.Sprintf(" (including a %s discount)", pricing.FormatAmount(p.DiscountTotal))
	}
	html += "</p>"

	result, err := e.Sender.Send(ctx, email.SendRequest{
		To:      []string{p.To},
		From:    e.From,
		Subject: fmt.Sprintf("Your receipt for %s", p.ProductName),
		HTML:    html,
	})
	if err != nil {
		return "", fmt.Errorf("send receipt: %w", err)
	}
	return result.MessageID, nil
}
