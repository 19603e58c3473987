package mapper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"basegraph.app/ghsync/internal/model"
)

const (
	EnhancementStartMarker = "<!-- ghsync:enhancement:start -->"
	EnhancementEndMarker   = "<!-- ghsync:enhancement:end -->"
)

type priorityKeywords struct {
	priority model.IssuePriority
	keywords []string
}

// Order matters: the first level with a matching label wins.
var priorityLevels = []priorityKeywords{
	{model.IssuePriorityUrgent, []string{"urgent", "critical", "p0", "blocker"}},
	{model.IssuePriorityHigh, []string{"high", "p1", "important"}},
	{model.IssuePriorityMedium, []string{"medium", "p2"}},
	{model.IssuePriorityLow, []string{"low", "p3", "minor"}},
}

var (
	crossReferencePattern   = regexp.MustCompile(`(?:^|[^\w/&])#(\d+)\b`)
	closingReferencePattern = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s*:?\s+#(\d+)\b`)
)

// MapState converts a GitHub issue state and state reason into an internal
// status. Both inputs are compared case-insensitively, so the GraphQL enums
// (OPEN, NOT_PLANNED) and the REST values (open, not_planned) map alike.
func MapState(state, stateReason string) model.IssueStatus {
	if !strings.EqualFold(state, "closed") {
		return model.IssueStatusOpen
	}

	switch strings.ToLower(stateReason) {
	case "not_planned", "duplicate":
		return model.IssueStatusCancelled
	default:
		return model.IssueStatusCompleted
	}
}

// ExtractPriority returns the priority implied by a set of label names.
func ExtractPriority(labels []string) model.IssuePriority {
	lowered := make([]string, len(labels))
	for i, l := range labels {
		lowered[i] = strings.ToLower(l)
	}

	for _, level := range priorityLevels {
		for _, label := range lowered {
			for _, kw := range level.keywords {
				if strings.Contains(label, kw) {
					return level.priority
				}
			}
		}
	}

	return model.IssuePriorityNone
}

// FormatBodyWithEnhancement appends a delimited enhancement section to the
// original description. ExtractOriginalDescription reverses it exactly.
func FormatBodyWithEnhancement(original, enhanced string, status model.IssueStatus, priority model.IssuePriority) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\n")
	b.WriteString(EnhancementStartMarker)
	b.WriteString("\n")
	fmt.Fprintf(&b, "**Status:** %s | **Priority:** %s\n\n", status, priority)
	b.WriteString(sanitizeEnhancement(enhanced))
	b.WriteString("\n")
	b.WriteString(EnhancementEndMarker)
	return b.String()
}

// ExtractOriginalDescription strips a trailing enhancement section, if any.
func ExtractOriginalDescription(body string) string {
	if !strings.HasSuffix(body, EnhancementEndMarker) {
		return body
	}

	idx := strings.LastIndex(body, "\n\n"+EnhancementStartMarker)
	if idx < 0 {
		return body
	}

	return body[:idx]
}

// HasEnhancement reports whether body ends with an enhancement section.
func HasEnhancement(body string) bool {
	return ExtractOriginalDescription(body) != body
}

// The enhanced text must never contain a marker, otherwise the last start
// marker would no longer belong to the appended section.
func sanitizeEnhancement(enhanced string) string {
	s := strings.ReplaceAll(enhanced, EnhancementStartMarker, "")
	s = strings.ReplaceAll(s, EnhancementEndMarker, "")
	return strings.TrimSpace(s)
}

// ExtractCrossReferences returns issue numbers referenced as #N in the title
// and then the body, deduplicated in first-seen order.
func ExtractCrossReferences(title, body string) []int {
	return collectNumbers(crossReferencePattern, title, body)
}

// ExtractClosingReferences returns issue numbers a pull request claims to
// close through keywords such as "fixes #12" or "Closes: #7".
func ExtractClosingReferences(title, body string) []int {
	return collectNumbers(closingReferencePattern, title, body)
}

func collectNumbers(re *regexp.Regexp, texts ...string) []int {
	seen := make(map[int]struct{})
	refs := []int{}

	for _, text := range texts {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			refs = append(refs, n)
		}
	}

	return refs
}

// StatusForPullRequest decides how a pull request event moves an issue it
// references. The boolean is false when the issue should be left alone.
func StatusForPullRequest(action string, merged bool, current model.IssueStatus) (model.IssueStatus, bool) {
	switch action {
	case "opened", "reopened", "ready_for_review", "edited":
		if current == model.IssueStatusOpen || current == model.IssueStatusInProgress {
			return model.IssueStatusReview, true
		}
	case "closed":
		if merged {
			if current != model.IssueStatusCompleted && current != model.IssueStatusCancelled {
				return model.IssueStatusCompleted, true
			}
			return current, false
		}
		if current == model.IssueStatusReview {
			return model.IssueStatusOpen, true
		}
	}

	return current, false
}
