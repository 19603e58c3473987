package webhook_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing/iotest"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v66/github"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	handler "basegraph.app/ghsync/internal/http/handler/webhook"
	"basegraph.app/ghsync/internal/webhook"
)

const secret = "It's a Secret to Everybody"

type recordingHandler struct {
	mu     sync.Mutex
	issues []*github.IssuesEvent
	err    error
}

func (h *recordingHandler) HandleIssues(_ context.Context, e *github.IssuesEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.issues = append(h.issues, e)
	return h.err
}

func (h *recordingHandler) HandleIssueComment(context.Context, *github.IssueCommentEvent) error {
	return nil
}

func (h *recordingHandler) HandlePullRequest(context.Context, *github.PullRequestEvent) error {
	return nil
}

func (h *recordingHandler) HandleInstallation(context.Context, *github.InstallationEvent) error {
	return nil
}

func (h *recordingHandler) HandleInstallationRepositories(context.Context, *github.InstallationRepositoriesEvent) error {
	return nil
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("GitHubWebhookHandler", func() {
	var (
		router  *gin.Engine
		events  *recordingHandler
		payload []byte
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		events = &recordingHandler{}
		receiver := webhook.NewReceiver(secret, webhook.NewMemoryDeliveryCache(0), events)
		h := handler.NewGitHubWebhookHandler(receiver)
		router = gin.New()
		router.POST("/webhooks/github", h.HandleEvent)
		router.GET("/webhooks/github", h.Health)
		payload = []byte(`{"action":"opened","issue":{"number":42},"repository":{"id":99}}`)
	})

	deliver := func(id, event, signature string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Delivery", id)
		req.Header.Set("X-GitHub-Event", event)
		if signature != "" {
			req.Header.Set("X-Hub-Signature-256", signature)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		return w, resp
	}

	It("processes a signed delivery", func() {
		w, resp := deliver("d-1", "issues", sign(payload), payload)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(resp).To(HaveKeyWithValue("message", "Webhook processed"))
		Expect(resp).To(HaveKeyWithValue("event", "issues"))
		Expect(resp).To(HaveKeyWithValue("delivery_id", "d-1"))
		Expect(resp).To(HaveKey("processing_time_ms"))
		Expect(events.issues).To(HaveLen(1))
		Expect(events.issues[0].GetIssue().GetNumber()).To(Equal(42))
	})

	It("rejects a bad signature without dispatching", func() {
		w, resp := deliver("d-1", "issues", sign([]byte("other")), payload)

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(resp).To(HaveKeyWithValue("error", "Invalid signature"))
		Expect(events.issues).To(BeEmpty())
	})

	It("rejects a missing signature", func() {
		w, _ := deliver("d-1", "issues", "", payload)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("acknowledges a redelivery without dispatching again", func() {
		deliver("d-1", "issues", sign(payload), payload)
		w, resp := deliver("d-1", "issues", sign(payload), payload)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(resp).To(HaveKeyWithValue("message", "Delivery already processed"))
		Expect(events.issues).To(HaveLen(1))
	})

	It("acknowledges unsupported events", func() {
		body := []byte(`{"zen":"Keep it logically awesome."}`)
		w, resp := deliver("d-2", "ping", sign(body), body)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(resp).To(HaveKeyWithValue("message", "Event type not handled"))
	})

	It("acknowledges handler failures", func() {
		events.err = errors.New("database unavailable")

		w, _ := deliver("d-3", "issues", sign(payload), payload)

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("acknowledges and drops an oversized payload", func() {
		body := bytes.Repeat([]byte("a"), 25<<20+1)
		w, resp := deliver("d-4", "issues", sign(body), body)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(resp).To(HaveKeyWithValue("message", "Webhook dropped"))
		Expect(resp).To(HaveKeyWithValue("delivery_id", "d-4"))
		Expect(events.issues).To(BeEmpty())
	})

	It("acknowledges and drops an unreadable body", func() {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", iotest.ErrReader(errors.New("connection reset")))
		req.Header.Set("X-GitHub-Delivery", "d-5")
		req.Header.Set("X-GitHub-Event", "issues")
		req.Header.Set("X-Hub-Signature-256", sign(payload))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("Webhook dropped"))
		Expect(events.issues).To(BeEmpty())
	})

	It("describes itself on GET", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/github", nil))

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp).To(HaveKeyWithValue("status", "ok"))
		Expect(resp["supported_events"]).To(ContainElements("issues", "pull_request", "installation"))
	})
})
