package githubapi

import (
	"context"
	"fmt"
	"time"

	"github.com/shurcooL/githubv4"
)

// RemoteUser is a GitHub account as returned by the API.
type RemoteUser struct {
	Login      string
	AvatarURL  string
	DatabaseID int64
}

// RemoteIssue is one issue of a fetched page.
type RemoteIssue struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
	Assignee    *RemoteUser
	NodeID      string
	Title       string
	Body        string
	State       string
	StateReason string
	Labels      []string
	DatabaseID  int64
	Number      int
}

type IssuePage struct {
	EndCursor   string
	Issues      []RemoteIssue
	HasNextPage bool
}

type userNode struct {
	Login      githubv4.String
	AvatarURL  githubv4.String `graphql:"avatarUrl"`
	DatabaseID int64           `graphql:"databaseId"`
}

type issueNode struct {
	ID          githubv4.ID
	DatabaseID  int64 `graphql:"databaseId"`
	Number      githubv4.Int
	Title       githubv4.String
	Body        githubv4.String
	State       githubv4.String
	StateReason *githubv4.String
	CreatedAt   githubv4.DateTime
	UpdatedAt   githubv4.DateTime
	ClosedAt    *githubv4.DateTime
	Assignees   struct {
		Nodes []userNode
	} `graphql:"assignees(first: 1)"`
	Labels struct {
		Nodes []struct {
			Name githubv4.String
		}
	} `graphql:"labels(first: 50)"`
}

type issuesQuery struct {
	Repository struct {
		Issues struct {
			Nodes    []issueNode
			PageInfo struct {
				EndCursor   githubv4.String
				HasNextPage githubv4.Boolean
			}
		} `graphql:"issues(first: $issuesPerPage, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// FetchIssuesPage fetches one page of issues, most recently updated first.
// after is the page cursor returned by the previous call, empty for the first.
func (c *Client) FetchIssuesPage(ctx context.Context, owner, name string, first int, after string) (*IssuePage, error) {
	var cursor *githubv4.String
	if after != "" {
		cursor = githubv4.NewString(githubv4.String(after))
	}

	var q issuesQuery
	vars := map[string]any{
		"owner":         githubv4.String(owner),
		"name":          githubv4.String(name),
		"issuesPerPage": githubv4.Int(first),
		"cursor":        cursor,
	}
	if err := c.Query(ctx, &q, vars); err != nil {
		return nil, err
	}

	conn := q.Repository.Issues
	page := &IssuePage{
		EndCursor:   string(conn.PageInfo.EndCursor),
		HasNextPage: bool(conn.PageInfo.HasNextPage),
		Issues:      make([]RemoteIssue, 0, len(conn.Nodes)),
	}
	for _, n := range conn.Nodes {
		page.Issues = append(page.Issues, n.toRemote())
	}
	return page, nil
}

func (n issueNode) toRemote() RemoteIssue {
	issue := RemoteIssue{
		NodeID:     fmt.Sprint(n.ID),
		DatabaseID: n.DatabaseID,
		Number:     int(n.Number),
		Title:      string(n.Title),
		Body:       string(n.Body),
		State:      string(n.State),
		CreatedAt:  n.CreatedAt.Time,
		UpdatedAt:  n.UpdatedAt.Time,
	}
	if n.StateReason != nil {
		issue.StateReason = string(*n.StateReason)
	}
	if n.ClosedAt != nil {
		t := n.ClosedAt.Time
		issue.ClosedAt = &t
	}
	if len(n.Assignees.Nodes) > 0 {
		a := n.Assignees.Nodes[0]
		issue.Assignee = &RemoteUser{
			Login:      string(a.Login),
			AvatarURL:  string(a.AvatarURL),
			DatabaseID: a.DatabaseID,
		}
	}
	for _, l := range n.Labels.Nodes {
		issue.Labels = append(issue.Labels, string(l.Name))
	}
	return issue
}

// IssueNodeID resolves the global node id needed by mutations.
func (c *Client) IssueNodeID(ctx context.Context, owner, name string, number int) (string, error) {
	var q struct {
		Repository struct {
			Issue struct {
				ID githubv4.ID
			} `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"number": githubv4.Int(number),
	}
	if err := c.Query(ctx, &q, vars); err != nil {
		return "", err
	}
	if q.Repository.Issue.ID == nil {
		return "", &APIError{Type: ErrorTypeGraphQL, Message: fmt.Sprintf("issue %s/%s#%d not found", owner, name, number), Attempts: 1}
	}
	return fmt.Sprint(q.Repository.Issue.ID), nil
}

// UpdateIssueBody replaces the body of the issue with the given node id.
func (c *Client) UpdateIssueBody(ctx context.Context, nodeID, body string) error {
	var m struct {
		UpdateIssue struct {
			Issue struct {
				ID     githubv4.ID
				Number githubv4.Int
			}
		} `graphql:"updateIssue(input: $input)"`
	}
	input := githubv4.UpdateIssueInput{
		ID:   githubv4.ID(nodeID),
		Body: githubv4.NewString(githubv4.String(body)),
	}
	return c.Mutate(ctx, &m, input, nil)
}
