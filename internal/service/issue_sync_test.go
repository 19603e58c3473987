package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/ghsync/internal/githubapi"
	"basegraph.app/ghsync/internal/model"
	"basegraph.app/ghsync/internal/service"
	"basegraph.app/ghsync/internal/store"
)

var _ = Describe("IssueSyncEngine", func() {
	var (
		ctx    context.Context
		repo   *model.Repository
		status *store.MemorySyncStatusStore
		issues *fakeIssueStore
		users  *fakeGitHubUserStore
		gh     *fakeGitHub
		engine service.IssueSyncEngine
		newest time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = &model.Repository{ID: 10, WorkspaceID: 1, Owner: "acme", Name: "app", ExternalRepoID: 99, IsEnabled: true}
		status = store.NewMemorySyncStatusStore(time.Hour)
		issues = newFakeIssueStore()
		users = newFakeGitHubUserStore()
		newest = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		gh = newFakeGitHub(remoteIssues(150, newest))
		engine = service.NewIssueSyncEngine(status, issues, users, gh, service.IssueSyncConfig{})
	})

	Describe("full sync", func() {
		It("walks every page and records the newest update time as cursor", func() {
			result, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true, BatchSize: 100})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Processed).To(Equal(150))
			Expect(result.Created).To(Equal(150))
			Expect(result.Updated).To(Equal(0))
			Expect(result.Errors).To(Equal(0))
			Expect(result.Pages).To(Equal(2))
			Expect(result.Cursor).NotTo(BeNil())
			Expect(*result.Cursor).To(Equal(newest.Format(time.RFC3339)))
			Expect(issues.count()).To(Equal(150))

			st, err := status.GetStatus(ctx, repo.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(st.InProgress).To(BeFalse())
			Expect(st.LastCursor).To(Equal(result.Cursor))
			Expect(st.LastSyncAt).NotTo(BeNil())
			Expect(st.LastOutcome).To(HaveValue(Equal(model.SyncOutcomeCompleted)))
		})

		It("updates existing rows on a second full sync without duplicating", func() {
			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).NotTo(HaveOccurred())

			result, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Processed).To(Equal(150))
			Expect(result.Created).To(Equal(0))
			Expect(result.Updated).To(Equal(150))
			Expect(issues.count()).To(Equal(150))
		})

		It("maps state, priority and assignee", func() {
			closedAt := newest.Add(-time.Minute)
			gh.setIssues([]githubapi.RemoteIssue{{
				NodeID:      "I_42",
				DatabaseID:  4242,
				Number:      42,
				Title:       "Drop legacy exporter",
				Body:        "Duplicate of #7, see also #9",
				State:       "CLOSED",
				StateReason: "NOT_PLANNED",
				Labels:      []string{"urgent", "backend"},
				Assignee:    &githubapi.RemoteUser{Login: "octocat", DatabaseID: 583231},
				CreatedAt:   newest.Add(-48 * time.Hour),
				UpdatedAt:   newest,
				ClosedAt:    &closedAt,
			}})

			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).NotTo(HaveOccurred())

			stored := issues.get(repo.ID, 42)
			Expect(stored).NotTo(BeNil())
			Expect(stored.Status).To(Equal(model.IssueStatusCancelled))
			Expect(stored.Priority).To(Equal(model.IssuePriorityUrgent))
			Expect(stored.ExternalIssueID).To(Equal(int64(4242)))
			Expect(stored.CrossReferences).To(Equal([]int{7, 9}))
			Expect(stored.ExternalClosedAt).To(HaveValue(Equal(closedAt)))

			assignee, err := users.GetByExternalID(ctx, 583231)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.AssigneeID).To(HaveValue(Equal(assignee.ID)))
		})

		It("reports progress after every issue", func() {
			var seen []service.SyncProgress
			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{
				Full:       true,
				OnProgress: func(p service.SyncProgress) { seen = append(seen, p) },
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(HaveLen(150))
			Expect(seen[0].Processed).To(Equal(1))
			Expect(seen[149].Processed).To(Equal(150))
			Expect(seen[149].Page).To(Equal(2))
		})

		It("caps the batch size at 100", func() {
			result, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true, BatchSize: 500})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pages).To(Equal(2))
		})
	})

	Describe("incremental sync", func() {
		BeforeEach(func() {
			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).NotTo(HaveOccurred())
		})

		It("stops at the stored cursor when nothing changed", func() {
			pagesBefore := gh.pageCount()

			result, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Processed).To(Equal(0))
			Expect(result.StoppedEarly).To(BeTrue())
			Expect(gh.pageCount() - pagesBefore).To(Equal(1))
			Expect(*result.Cursor).To(Equal(newest.Format(time.RFC3339)))
		})

		It("processes only issues updated after the cursor", func() {
			later := newest.Add(10 * time.Minute)
			updated := remoteIssues(150, newest)
			updated[20].UpdatedAt = later
			updated[60].UpdatedAt = later.Add(-time.Minute)
			fresh := append([]githubapi.RemoteIssue{updated[20], updated[60]}, updated[:20]...)
			fresh = append(fresh, updated[21:60]...)
			fresh = append(fresh, updated[61:]...)
			gh.setIssues(fresh)

			result, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Processed).To(Equal(2))
			Expect(result.Updated).To(Equal(2))
			Expect(result.StoppedEarly).To(BeTrue())
			Expect(*result.Cursor).To(Equal(later.Format(time.RFC3339)))
		})

		It("ignores the cursor on a full sync", func() {
			result, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Processed).To(Equal(150))
			Expect(result.StoppedEarly).To(BeFalse())
		})
	})

	Describe("mutual exclusion", func() {
		It("rejects a second sync while the first is running", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			gh.fetchFn = func(ctx context.Context, page int) error {
				once.Do(func() { close(started) })
				<-release
				return nil
			}

			type outcome struct {
				result *service.SyncResult
				err    error
			}
			first := make(chan outcome, 1)
			go func() {
				defer GinkgoRecover()
				r, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
				first <- outcome{r, err}
			}()
			Eventually(started).Should(BeClosed())

			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).To(MatchError(service.ErrSyncInProgress))

			close(release)
			var res outcome
			Eventually(first).Should(Receive(&res))
			Expect(res.err).NotTo(HaveOccurred())
			Expect(res.result.Processed).To(Equal(150))

			st, _ := status.GetStatus(ctx, repo.ID)
			Expect(st.InProgress).To(BeFalse())
		})

		It("lets exactly one of many concurrent callers run", func() {
			release := make(chan struct{})
			gh.fetchFn = func(ctx context.Context, page int) error {
				<-release
				return nil
			}

			const callers = 10
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				conflicts int
			)
			for range callers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, service.ErrSyncInProgress):
						conflicts++
					}
				}()
			}

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return conflicts
			}).Should(Equal(callers - 1))
			close(release)
			wg.Wait()

			Expect(succeeded).To(Equal(1))
			Expect(issues.count()).To(Equal(150))
		})

		Describe("when a stale run is reclaimed mid-sync", func() {
			var clock time.Time

			BeforeEach(func() {
				var clockMu sync.Mutex
				clock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
				status.WithClock(func() time.Time {
					clockMu.Lock()
					defer clockMu.Unlock()
					return clock
				})
				gh.fetchFn = func(ctx context.Context, page int) error {
					if page == 1 {
						clockMu.Lock()
						clock = clock.Add(61 * time.Minute)
						clockMu.Unlock()
						ok, err := status.TryBeginSync(ctx, repo.ID, 9001)
						Expect(err).NotTo(HaveOccurred())
						Expect(ok).To(BeTrue())
					}
					return nil
				}
			})

			It("writes the issues but leaves the status to the new owner", func() {
				result, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})

				Expect(err).NotTo(HaveOccurred())
				Expect(result.Superseded).To(BeTrue())
				Expect(issues.count()).To(Equal(150))

				st, _ := status.GetStatus(ctx, repo.ID)
				Expect(st.InProgress).To(BeTrue())
				Expect(st.RunID).To(HaveValue(Equal(int64(9001))))
				Expect(st.LastCursor).To(BeNil())
				Expect(st.LastOutcome).To(BeNil())

				ok, err := status.TryBeginSync(ctx, repo.ID, 9002)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
			})

			It("does not record a failure over the new owner", func() {
				reclaim := gh.fetchFn
				gh.fetchFn = func(ctx context.Context, page int) error {
					Expect(reclaim(ctx, page)).To(Succeed())
					return errors.New("connection reset")
				}

				_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
				Expect(err).To(HaveOccurred())

				st, _ := status.GetStatus(ctx, repo.ID)
				Expect(st.InProgress).To(BeTrue())
				Expect(st.RunID).To(HaveValue(Equal(int64(9001))))
				Expect(st.LastError).To(BeNil())
			})
		})

		It("does not touch the status of a conflicting call", func() {
			ok, err := status.TryBeginSync(ctx, repo.ID, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			_, err = engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).To(MatchError(service.ErrSyncInProgress))

			st, _ := status.GetStatus(ctx, repo.ID)
			Expect(st.InProgress).To(BeTrue())
			Expect(gh.pageCount()).To(Equal(0))
		})
	})

	Describe("failure handling", func() {
		It("isolates per-issue failures", func() {
			issues.upsertFn = func(_ context.Context, issue *model.Issue) error {
				if issue.ExternalIssueNumber == 5 || issue.ExternalIssueNumber == 77 {
					return errors.New("constraint violated")
				}
				return nil
			}

			result, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Processed).To(Equal(150))
			Expect(result.Created).To(Equal(148))
			Expect(result.Errors).To(Equal(2))
			Expect(result.ErrorDetails).To(ConsistOf(
				HaveField("Number", 77),
				HaveField("Number", 5),
			))
			Expect(issues.count()).To(Equal(148))
		})

		It("fails the run and clears the flag on a fatal fetch error", func() {
			apiErr := &githubapi.APIError{Type: githubapi.ErrorTypeAuth, StatusCode: 401, Message: "Bad credentials", Attempts: 1}
			gh.fetchFn = func(context.Context, int) error { return apiErr }

			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})

			Expect(err).To(HaveOccurred())
			Expect(githubapi.IsAuthError(err)).To(BeTrue())

			st, _ := status.GetStatus(ctx, repo.ID)
			Expect(st.InProgress).To(BeFalse())
			Expect(st.LastOutcome).To(HaveValue(Equal(model.SyncOutcomeFailed)))
			Expect(st.LastError).To(HaveValue(ContainSubstring("Bad credentials")))
		})

		It("keeps the previous cursor when a later page fails", func() {
			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).NotTo(HaveOccurred())
			before, _ := status.GetStatus(ctx, repo.ID)

			gh.fetchFn = func(_ context.Context, page int) error {
				if page > 3 {
					return &githubapi.APIError{Type: githubapi.ErrorTypeServer, StatusCode: 502, Attempts: 3}
				}
				return nil
			}
			_, err = engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).To(HaveOccurred())

			after, _ := status.GetStatus(ctx, repo.ID)
			Expect(after.LastCursor).To(Equal(before.LastCursor))
			Expect(after.InProgress).To(BeFalse())
		})

		It("clears the flag when cancelled mid-sync", func() {
			cctx, cancel := context.WithCancel(ctx)
			gh.fetchFn = func(fctx context.Context, page int) error {
				if page == 2 {
					cancel()
					return fctx.Err()
				}
				return nil
			}

			_, err := engine.SyncRepositoryIssues(cctx, repo, service.SyncOptions{Full: true})

			Expect(err).To(MatchError(context.Canceled))
			st, _ := status.GetStatus(ctx, repo.ID)
			Expect(st.InProgress).To(BeFalse())
			Expect(st.LastOutcome).To(HaveValue(Equal(model.SyncOutcomeFailed)))

			_, err = engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})
			Expect(err).NotTo(HaveOccurred())
		})

		It("clears the flag when a progress callback panics", func() {
			Expect(func() {
				_, _ = engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{
					Full:       true,
					OnProgress: func(service.SyncProgress) { panic("ui went away") },
				})
			}).To(PanicWith("ui went away"))

			st, _ := status.GetStatus(ctx, repo.ID)
			Expect(st.InProgress).To(BeFalse())
			Expect(st.LastError).To(HaveValue(ContainSubstring("ui went away")))
		})
	})

	Describe("rate limiting", func() {
		It("pauses before the next page when quota is below the low-water mark", func() {
			now := newest
			gh.limit = githubapi.RateLimitState{
				Remaining:  50,
				Limit:      5000,
				Reset:      now.Add(10 * time.Minute),
				ObservedAt: now,
			}
			var pauses []time.Duration
			service.SetEngineClock(engine,
				func() time.Time { return now },
				func(_ context.Context, d time.Duration) error {
					pauses = append(pauses, d)
					return nil
				})

			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})

			Expect(err).NotTo(HaveOccurred())
			Expect(pauses).To(Equal([]time.Duration{5 * time.Minute}))
		})

		It("stops waiting when the context is cancelled", func() {
			now := newest
			gh.limit = githubapi.RateLimitState{
				Remaining:  0,
				Limit:      5000,
				Reset:      now.Add(time.Hour),
				ObservedAt: now,
			}
			service.SetEngineClock(engine,
				func() time.Time { return now },
				func(context.Context, time.Duration) error { return context.Canceled })

			_, err := engine.SyncRepositoryIssues(ctx, repo, service.SyncOptions{Full: true})

			Expect(err).To(MatchError(context.Canceled))
			st, _ := status.GetStatus(ctx, repo.ID)
			Expect(st.InProgress).To(BeFalse())
		})
	})
})
