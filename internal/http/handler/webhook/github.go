package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v66/github"

	"basegraph.app/ghsync/internal/webhook"
)

// GitHub caps webhook payloads at 25 MB.
const maxPayloadBytes = 25 << 20

type DeliveryReceiver interface {
	Receive(ctx context.Context, d webhook.Delivery) (webhook.Result, error)
}

type GitHubWebhookHandler struct {
	receiver DeliveryReceiver
}

func NewGitHubWebhookHandler(receiver DeliveryReceiver) *GitHubWebhookHandler {
	return &GitHubWebhookHandler{receiver: receiver}
}

func (h *GitHubWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	deliveryID := c.GetHeader(github.DeliveryIDHeader)
	event := c.GetHeader(github.EventTypeHeader)

	// Unreadable or oversized bodies are acknowledged and dropped.
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadBytes))
	if err != nil {
		slog.WarnContext(ctx, "github webhook body unreadable, dropped",
			"error", err,
			"delivery_id", deliveryID,
			"event_type", event)
		c.JSON(http.StatusOK, gin.H{
			"message":            "Webhook dropped",
			"event":              event,
			"delivery_id":        deliveryID,
			"processing_time_ms": 0,
		})
		return
	}

	res, err := h.receiver.Receive(ctx, webhook.Delivery{
		ID:        deliveryID,
		Event:     event,
		Signature: c.GetHeader(github.SHA256SignatureHeader),
		Body:      body,
	})
	if errors.Is(err, webhook.ErrInvalidSignature) {
		slog.WarnContext(ctx, "github webhook rejected", "reason", "invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "github webhook receive failed", "error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":            res.Message(),
		"event":              res.Event,
		"delivery_id":        res.DeliveryID,
		"processing_time_ms": res.Duration.Milliseconds(),
	})
}

func (h *GitHubWebhookHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"endpoint":         "github-webhook",
		"supported_events": webhook.SupportedEvents(),
	})
}
