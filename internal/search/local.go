package search

import (
	"sort"
	"strings"

	"kttrack/api/internal/domain"
)

// Local searches the in-memory project snapshot. It backs the API when
// Meilisearch is not configured or unhealthy.
type Local struct {
	snapshot func() []domain.Project
}

func NewLocal(snapshot func() []domain.Project) *Local {
	return &Local{snapshot: snapshot}
}

func (l *Local) Healthy() bool {
	return true
}

func (l *Local) Search(q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var scope map[string]bool
	if q.ProjectIDs != nil {
		scope = make(map[string]bool, len(q.ProjectIDs))
		for _, id := range q.ProjectIDs {
			scope[id] = true
		}
	}

	type scored struct {
		result Result
		score  int
	}
	var hits []scored
	for _, project := range l.snapshot() {
		if scope != nil && !scope[project.ID] {
			continue
		}
		if q.FilterType == "" || q.FilterType == ResultProject {
			if score := matchScore(terms, project.Name, project.Description, project.ManagerName); score > 0 {
				hits = append(hits, scored{score: score, result: Result{
					Type:      ResultProject,
					ID:        project.ID,
					Title:     project.Name,
					Snippet:   snippet(project.Description, terms),
					ProjectID: project.ID,
					Status:    string(project.Status),
				}})
			}
		}
		if q.FilterType == "" || q.FilterType == ResultSection {
			for _, section := range project.Sections {
				score := matchScore(terms, section.Title, section.Content, section.Description, project.Name)
				if score == 0 {
					continue
				}
				hits = append(hits, scored{score: score, result: Result{
					Type:      ResultSection,
					ID:        section.ID,
					Title:     section.Title,
					Snippet:   snippet(firstNonBlank(section.Content, section.Description), terms),
					ProjectID: project.ID,
					Status:    string(section.Status),
				}})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	total := len(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = hit.result
	}
	return results, total, nil
}

// matchScore requires every term to appear in at least one field. Earlier
// fields weigh more.
func matchScore(terms []string, fields ...string) int {
	lowered := make([]string, len(fields))
	for i, field := range fields {
		lowered[i] = strings.ToLower(field)
	}
	score := 0
	for _, term := range terms {
		best := 0
		for i, field := range lowered {
			if strings.Contains(field, term) {
				if weight := len(fields) - i; weight > best {
					best = weight
				}
			}
		}
		if best == 0 {
			return 0
		}
		score += best
	}
	return score
}

func snippet(text string, terms []string) string {
	const radius = 60
	lower := strings.ToLower(text)
	for _, term := range terms {
		at := strings.Index(lower, term)
		if at < 0 {
			continue
		}
		start := max(0, at-radius)
		end := min(len(text), at+len(term)+radius)
		out := strings.TrimSpace(text[start:end])
		if start > 0 {
			out = "…" + out
		}
		if end < len(text) {
			out += "…"
		}
		return out
	}
	if len(text) > 2*radius {
		return strings.TrimSpace(text[:2*radius]) + "…"
	}
	return text
}
