package email

import (
	"fmt"
	"strings"
)

// SearchQuery selects candidate bounce messages: anything newer than the
// lookback window that is from one of Senders or carries one of Subjects.
// Matching is case-insensitive and the terms are OR-combined.
type SearchQuery struct {
	Senders       []string
	Subjects      []string
	NewerThanDays int
	MaxResults    int
}

// String renders the query in Gmail search syntax.
func (q SearchQuery) String() string {
	terms := make([]string, 0, len(q.Senders)+len(q.Subjects))
	for _, s := range q.Senders {
		terms = append(terms, "from:"+quoteTerm(s))
	}
	for _, s := range q.Subjects {
		terms = append(terms, "subject:"+quoteTerm(s))
	}

	var b strings.Builder
	if q.NewerThanDays > 0 {
		fmt.Fprintf(&b, "newer_than:%dd", q.NewerThanDays)
	}
	if len(terms) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("(" + strings.Join(terms, " OR ") + ")")
	}
	return b.String()
}

func quoteTerm(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}
