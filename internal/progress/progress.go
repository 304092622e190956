// Package progress computes a project's completion and derived status from
// its sections. Everything here is pure: no clocks, no I/O, no shared state.
package progress

import (
	"strings"

	"kttrack/api/internal/domain"
)

type Result struct {
	Completion  int                  `json:"completion"`
	NextStatus  domain.ProjectStatus `json:"nextStatus"`
	WorkStarted bool                 `json:"workStarted"`
}

// halfWeight returns a section's weight counted in halves so the
// completion formula stays in integer arithmetic.
func halfWeight(status domain.SectionStatus) int {
	switch status {
	case domain.SectionUnderstood:
		return 2
	case domain.SectionReadyForReview, domain.SectionNeedsClarification:
		return 1
	default:
		return 0
	}
}

// Weight is the progress contribution of a single section status.
func Weight(status domain.SectionStatus) float64 {
	return float64(halfWeight(status)) / 2
}

// Completion rounds 100*sum(weights)/count half-up. With h = sum of weights in
// halves and n sections, round(50h/n) == floor((100h+n)/(2n)).
func Completion(sections []domain.Section) int {
	n := len(sections)
	if n == 0 {
		return 0
	}
	halves := 0
	for _, section := range sections {
		halves += halfWeight(section.Status)
	}
	return (100*halves + n) / (2 * n)
}

// Engaged reports whether anyone has worked on the section yet.
func Engaged(section domain.Section) bool {
	return section.Status != domain.SectionDraft ||
		strings.TrimSpace(section.Content) != "" ||
		len(section.Attachments) > 0
}

func WorkStarted(sections []domain.Section) bool {
	for _, section := range sections {
		if Engaged(section) {
			return true
		}
	}
	return false
}

// Compute never returns ProjectCompleted unless the project already is
// Completed; that transition belongs to the manager's sign-off.
func Compute(sections []domain.Section, current domain.ProjectStatus) Result {
	if len(sections) == 0 {
		return Result{Completion: 0, NextStatus: current}
	}

	result := Result{
		Completion:  Completion(sections),
		NextStatus:  current,
		WorkStarted: WorkStarted(sections),
	}
	if (current == domain.ProjectNotStarted || current == domain.ProjectActive) && result.WorkStarted {
		result.NextStatus = domain.ProjectInProgress
	}
	return result
}

// Changed reports whether applying r to project would alter its stored fields.
func (r Result) Changed(project domain.Project) bool {
	return r.Completion != project.Completion || r.NextStatus != project.Status
}
