package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/ghsync/internal/http/handler"
	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/service"
)

var _ = Describe("SyncHandler", func() {
	var (
		router *gin.Engine
		svc    *mockSyncService
		user   *model.User
	)

	setup := func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		router.Use(asUser(user))
		h := handler.NewSyncHandler(svc)
		router.POST("/repositories/:id/sync-issues", h.SyncIssues)
		router.GET("/repositories/:id/sync-status", h.SyncStatus)
	}

	BeforeEach(func() {
		svc = &mockSyncService{}
		user = &model.User{ID: 7, Email: "ada@example.com"}
		setup()
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("POST sync-issues", func() {
		It("returns the sync counters", func() {
			cursor := "2024-06-01T12:00:00Z"
			var gotUser, gotRepo int64
			var gotFull bool
			svc.syncForUserFn = func(_ context.Context, userID, repoID int64, full bool) (*service.SyncResult, error) {
				gotUser, gotRepo, gotFull = userID, repoID, full
				return &service.SyncResult{Processed: 150, Created: 140, Updated: 10, Cursor: &cursor}, nil
			}

			w := post("/repositories/42/sync-issues", `{"full_sync": true}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotUser).To(Equal(int64(7)))
			Expect(gotRepo).To(Equal(int64(42)))
			Expect(gotFull).To(BeTrue())

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveKeyWithValue("success", true))
			Expect(resp).To(HaveKeyWithValue("synced", BeNumerically("==", 150)))
			Expect(resp).To(HaveKeyWithValue("created", BeNumerically("==", 140)))
			Expect(resp).To(HaveKeyWithValue("updated", BeNumerically("==", 10)))
			Expect(resp).To(HaveKeyWithValue("errors", BeNumerically("==", 0)))
			Expect(resp).To(HaveKeyWithValue("cursor", cursor))
		})

		It("accepts an empty body as an incremental sync", func() {
			var gotFull = true
			svc.syncForUserFn = func(_ context.Context, _, _ int64, full bool) (*service.SyncResult, error) {
				gotFull = full
				return &service.SyncResult{}, nil
			}

			w := post("/repositories/42/sync-issues", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gotFull).To(BeFalse())
		})

		DescribeTable("maps service errors",
			func(err error, code int, message string) {
				svc.syncForUserFn = func(context.Context, int64, int64, bool) (*service.SyncResult, error) {
					return nil, err
				}

				w := post("/repositories/42/sync-issues", `{}`)

				Expect(w.Code).To(Equal(code))
				var resp map[string]any
				Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp).To(HaveKeyWithValue("error", message))
			},
			Entry("in progress", service.ErrSyncInProgress, http.StatusConflict, "Sync already in progress"),
			Entry("not a member", service.ErrForbidden, http.StatusForbidden, "forbidden"),
			Entry("unknown repository", service.ErrRepositoryNotFound, http.StatusNotFound, "repository not found"),
			Entry("fatal", errors.New("github: authentication failed"), http.StatusInternalServerError, "sync failed"),
		)

		It("rejects a malformed id", func() {
			w := post("/repositories/abc/sync-issues", `{}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 401 without a user", func() {
			user = nil
			setup()

			w := post("/repositories/42/sync-issues", `{}`)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("GET sync-status", func() {
		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			return w
		}

		It("returns defaults for a repository never synced", func() {
			w := get("/repositories/42/sync-status")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveKeyWithValue("sync_in_progress", false))
			Expect(resp).To(HaveKeyWithValue("last_issue_sync", BeNil()))
			Expect(resp).To(HaveKeyWithValue("last_issue_cursor", BeNil()))
		})

		It("returns the stored status", func() {
			at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			cursor := "2024-06-01T11:59:00Z"
			outcome := model.SyncOutcomeCompleted
			svc.statusForUserFn = func(context.Context, int64, int64) (*model.SyncStatus, error) {
				return &model.SyncStatus{RepositoryID: 42, LastSyncAt: &at, LastCursor: &cursor, LastOutcome: &outcome}, nil
			}

			w := get("/repositories/42/sync-status")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveKeyWithValue("last_issue_sync", "2024-06-01T12:00:00Z"))
			Expect(resp).To(HaveKeyWithValue("last_issue_cursor", cursor))
			Expect(resp).To(HaveKeyWithValue("last_sync_result", "completed"))
		})

		It("returns 403 for non members", func() {
			svc.statusForUserFn = func(context.Context, int64, int64) (*model.SyncStatus, error) {
				return nil, service.ErrForbidden
			}
			Expect(get("/repositories/42/sync-status").Code).To(Equal(http.StatusForbidden))
		})
	})
})
