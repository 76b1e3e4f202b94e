package gapfill

// Summary counts the outcome of a creation batch.
type Summary struct {
	Created       int      `json:"created"`
	IssuesCreated int      `json:"issuesCreated"`
	Failed        int      `json:"failed"`
	Errors        []string `json:"errors"`
}

// Summarize reduces per-entry results to counts and error strings.
func Summarize(results []CreatedEntry) Summary {
	s := Summary{Errors: []string{}}
	issues := map[int]bool{}
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
			s.Errors = append(s.Errors, r.Entry.Key()+": "+r.Err.Error())
			continue
		}
		s.Created++
		if r.IssueCreated && !issues[r.IssueID] {
			issues[r.IssueID] = true
			s.IssuesCreated++
		}
	}
	return s
}
