package example

type IssueStatus string

const (
	IssueStatusOpen   IssueStatus = "open"
	IssueStatusReview IssueStatus = "review"
)

type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "success"
)

type Issue struct {
	Status IssueStatus
	Title  string
}

type SyncStatus struct {
	LastResult SyncOutcome
}

func bad() {
	i := &Issue{}
	i.Status = "closed" // want "enum field Status assigned string literal"

	s := &SyncStatus{}
	s.LastResult = "ok" // want "enum field LastResult assigned string literal"

	_ = Issue{Status: "done"} // want "enum field Status assigned string literal"
}

func good() {
	i := &Issue{}
	i.Status = IssueStatusReview
	i.Title = "plain string field"

	s := &SyncStatus{}
	s.LastResult = SyncOutcomeSuccess

	_ = Issue{Status: IssueStatusOpen, Title: "literal ok"}
}

func alsoGood() {
	// variable, not literal
	status := IssueStatusOpen
	i := &Issue{Status: status}
	_ = i
}
