package webhook

import (
	"context"
	"fmt"

	"github.com/google/go-github/v66/github"
)

// EventHandler has one method per supported GitHub event, so adding an event
// type to the dispatch table without a handler does not compile.
type EventHandler interface {
	HandleIssues(ctx context.Context, event *github.IssuesEvent) error
	HandleIssueComment(ctx context.Context, event *github.IssueCommentEvent) error
	HandlePullRequest(ctx context.Context, event *github.PullRequestEvent) error
	HandleInstallation(ctx context.Context, event *github.InstallationEvent) error
	HandleInstallationRepositories(ctx context.Context, event *github.InstallationRepositoriesEvent) error
}

type dispatchFunc func(ctx context.Context, h EventHandler, event any) error

var dispatchTable = map[string]dispatchFunc{
	"issues":                    route(EventHandler.HandleIssues),
	"issue_comment":             route(EventHandler.HandleIssueComment),
	"pull_request":              route(EventHandler.HandlePullRequest),
	"installation":              route(EventHandler.HandleInstallation),
	"installation_repositories": route(EventHandler.HandleInstallationRepositories),
}

func route[E any](handle func(EventHandler, context.Context, *E) error) dispatchFunc {
	return func(ctx context.Context, h EventHandler, event any) error {
		ev, ok := event.(*E)
		if !ok || ev == nil {
			return fmt.Errorf("%w: unexpected payload type %T", ErrInvalidPayload, event)
		}
		return handle(h, ctx, ev)
	}
}

// Supported reports whether eventType is dispatched to a handler.
func Supported(eventType string) bool {
	_, ok := dispatchTable[eventType]
	return ok
}

// SupportedEvents lists the dispatched event types.
func SupportedEvents() []string {
	return []string{"issues", "issue_comment", "pull_request", "installation", "installation_repositories"}
}
