package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"basegraph.app/ghsync/common/logger"
	"github.com/google/go-github/v66/github"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidPayload marks deliveries that are dropped without retry
	// because their payload is malformed or incomplete.
	ErrInvalidPayload = errors.New("invalid payload")
)

const signaturePrefix = "sha256="

// Delivery is one inbound webhook request.
type Delivery struct {
	ID        string
	Event     string
	Signature string // X-Hub-Signature-256
	Body      []byte
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDropped   Outcome = "dropped"
	OutcomeFailed    Outcome = "failed"
)

// Result describes how an authenticated delivery was handled. Every outcome
// is acknowledged to GitHub with a 200.
type Result struct {
	Err        error
	Event      string
	DeliveryID string
	Outcome    Outcome
	Duration   time.Duration
}

func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeProcessed:
		return "Webhook processed"
	case OutcomeDuplicate:
		return "Delivery already processed"
	case OutcomeIgnored:
		return "Event type not handled"
	default:
		return "Webhook received"
	}
}

// Receiver verifies, deduplicates and dispatches GitHub webhook deliveries.
// It has no HTTP dependency; the gin handler adapts requests to Delivery.
type Receiver struct {
	handler EventHandler
	cache   DeliveryCache
	now     func() time.Time
	secret  []byte
}

func NewReceiver(secret string, cache DeliveryCache, handler EventHandler) *Receiver {
	return &Receiver{
		handler: handler,
		cache:   cache,
		now:     time.Now,
		secret:  []byte(secret),
	}
}

// Receive returns ErrInvalidSignature when the signature does not match;
// nothing else is done in that case. Any other failure is contained and
// reported through Result.
func (r *Receiver) Receive(ctx context.Context, d Delivery) (Result, error) {
	start := r.now()
	res := Result{Event: d.Event, DeliveryID: d.ID}

	if !r.validSignature(d) {
		return res, ErrInvalidSignature
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DeliveryID: logger.Ptr(d.ID),
		EventType:  logger.Ptr(d.Event),
		Component:  "ghsync.webhook",
	})

	if d.ID != "" {
		seen, err := r.cache.Seen(ctx, d.ID)
		if err != nil {
			slog.WarnContext(ctx, "delivery cache lookup failed, processing anyway", "error", err)
		}
		if seen {
			slog.InfoContext(ctx, "duplicate webhook delivery skipped")
			res.Outcome = OutcomeDuplicate
			res.Duration = r.now().Sub(start)
			return res, nil
		}
	}

	res.Outcome, res.Err = r.dispatch(ctx, d)
	res.Duration = r.now().Sub(start)

	switch res.Outcome {
	case OutcomeProcessed, OutcomeIgnored:
		r.record(ctx, d)
		slog.InfoContext(ctx, "webhook handled",
			"outcome", res.Outcome,
			"duration_ms", res.Duration.Milliseconds())
	case OutcomeDropped:
		slog.WarnContext(ctx, "webhook payload dropped", "error", res.Err)
	default:
		slog.ErrorContext(ctx, "webhook handler failed", "error", res.Err)
	}

	return res, nil
}

// validSignature accepts only sha256= signatures; ValidateSignature alone
// would also take sha1= and sha512=.
func (r *Receiver) validSignature(d Delivery) bool {
	if !strings.HasPrefix(d.Signature, signaturePrefix) {
		return false
	}
	return github.ValidateSignature(d.Signature, d.Body, r.secret) == nil
}

func (r *Receiver) dispatch(ctx context.Context, d Delivery) (outcome Outcome, err error) {
	fn, ok := dispatchTable[d.Event]
	if !ok {
		return OutcomeIgnored, nil
	}

	event, err := github.ParseWebHook(d.Event, d.Body)
	if err != nil {
		return OutcomeDropped, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	span := logger.StartSpan(ctx, "webhook.dispatch."+d.Event)
	defer span.End()
	ctx = span.Context()

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "webhook handler panicked",
				"panic", p,
				"stack", string(debug.Stack()))
			outcome, err = OutcomeFailed, fmt.Errorf("handler panic: %v", p)
		}
	}()

	if err := fn(ctx, r.handler, event); err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrInvalidPayload) {
			return OutcomeDropped, err
		}
		return OutcomeFailed, err
	}
	return OutcomeProcessed, nil
}

func (r *Receiver) record(ctx context.Context, d Delivery) {
	if d.ID == "" {
		return
	}
	if err := r.cache.Record(ctx, d.ID, d.Event, r.now()); err != nil {
		slog.WarnContext(ctx, "recording webhook delivery failed", "error", err)
	}
}
