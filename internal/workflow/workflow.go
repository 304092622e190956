// Package workflow is the section status machine: which status transitions
// exist, who may trigger them and under which preconditions.
package workflow

import (
	"errors"
	"fmt"
	"strings"

	"kttrack/api/internal/domain"
)

var (
	ErrTransitionNotAllowed = errors.New("section transition not allowed")
	ErrEmptyContent         = errors.New("section content is empty")
	ErrProjectCompleted     = errors.New("project is completed and read-only")
	ErrActorNotPermitted    = errors.New("actor may not change this section")
	ErrTooManyInitiators    = fmt.Errorf("a project may have at most %d initiators", domain.MaxInitiators)
)

type Actor string

const (
	ActorNone        Actor = ""
	ActorContributor Actor = "contributor"
	ActorReceiver    Actor = "receiver"
	ActorManager     Actor = "manager"
)

// ResolveActor decides in which capacity userID acts on section. The assigned
// contributor and Initiators author content, Receivers review it, the project
// manager only manages. Unassigned sections may be authored by any
// Contributor member.
func ResolveActor(project domain.Project, section domain.Section, userID string) Actor {
	if userID == "" {
		return ActorNone
	}
	if section.ContributorID != nil && *section.ContributorID == userID {
		return ActorContributor
	}
	if member, ok := project.Member(userID); ok {
		switch member.KTRole {
		case domain.RoleReceiver:
			return ActorReceiver
		case domain.RoleInitiator:
			return ActorContributor
		case domain.RoleContributor:
			if section.ContributorID == nil || *section.ContributorID == "" {
				return ActorContributor
			}
		}
	}
	if project.ManagerID == userID {
		return ActorManager
	}
	return ActorNone
}

type Transition struct {
	ProjectStatus domain.ProjectStatus
	From          domain.SectionStatus
	To            domain.SectionStatus
	Actor         Actor
	// Content is the section content as it will be stored after the move.
	Content string
	// ContentChanged is set when the move also changes the stored content.
	ContentChanged bool
}

func isOpen(status domain.SectionStatus) bool {
	switch status {
	case domain.SectionDraft, domain.SectionReadyForReview, domain.SectionNeedsClarification:
		return true
	}
	return false
}

// Check re-validates a transition against the table below. It never assumes
// the caller disabled unavailable actions. A transition that also changes the
// content is only open to the contributor.
//
//	Draft              -> Ready for Review     contributor, content non-empty
//	Needs Clarification-> Ready for Review     contributor, content non-empty
//	Ready for Review   -> Understood           receiver
//	Ready for Review   -> Needs Clarification  receiver
//	Ready for Review   -> Ready for Review     contributor or receiver (reset), content unchanged
//	Ready for Review,
//	Needs Clarification-> Draft                contributor, content changed
//	Draft, Ready for Review,
//	Needs Clarification-> Not Covered          receiver
func Check(t Transition) error {
	if t.ProjectStatus == domain.ProjectCompleted {
		return ErrProjectCompleted
	}
	if t.Actor == ActorNone || t.Actor == ActorManager {
		return ErrActorNotPermitted
	}
	// Only the contributor authors content, whatever the target status.
	if t.ContentChanged && t.Actor != ActorContributor {
		return ErrActorNotPermitted
	}

	switch t.To {
	case domain.SectionReadyForReview:
		switch t.From {
		case domain.SectionDraft, domain.SectionNeedsClarification:
			if t.Actor != ActorContributor {
				return ErrActorNotPermitted
			}
			if strings.TrimSpace(t.Content) == "" {
				return ErrEmptyContent
			}
			return nil
		case domain.SectionReadyForReview:
			// New content on a section under review goes back to Draft.
			if t.ContentChanged {
				return ErrTransitionNotAllowed
			}
			return nil
		}
	case domain.SectionUnderstood, domain.SectionNeedsClarification:
		if t.From == domain.SectionReadyForReview {
			if t.Actor != ActorReceiver {
				return ErrActorNotPermitted
			}
			return nil
		}
	case domain.SectionDraft:
		if t.From == domain.SectionReadyForReview || t.From == domain.SectionNeedsClarification {
			if t.Actor != ActorContributor {
				return ErrActorNotPermitted
			}
			if !t.ContentChanged {
				return ErrTransitionNotAllowed
			}
			return nil
		}
	case domain.SectionNotCovered:
		if isOpen(t.From) {
			if t.Actor != ActorReceiver {
				return ErrActorNotPermitted
			}
			return nil
		}
	}
	return ErrTransitionNotAllowed
}

// ContentEdit returns the status a section ends up in after its content is
// saved as newContent. Saving changed content on a section under review sends
// it back to Draft; identical content changes nothing.
func ContentEdit(section domain.Section, newContent string) (domain.SectionStatus, bool) {
	if newContent == section.Content {
		return section.Status, false
	}
	if section.Status == domain.SectionReadyForReview || section.Status == domain.SectionNeedsClarification {
		return domain.SectionDraft, true
	}
	return section.Status, true
}

// CheckAuthoring guards content edits and attachment changes.
func CheckAuthoring(projectStatus domain.ProjectStatus, actor Actor) error {
	if projectStatus == domain.ProjectCompleted {
		return ErrProjectCompleted
	}
	if actor != ActorContributor {
		return ErrActorNotPermitted
	}
	return nil
}

// CheckInitiators fails when giving userID the role would leave the project
// with more than MaxInitiators Initiators.
func CheckInitiators(members []domain.Member, userID string, role domain.KTRole) error {
	if role != domain.RoleInitiator {
		return nil
	}
	count := 0
	for _, member := range members {
		if member.KTRole == domain.RoleInitiator && member.UserID != userID {
			count++
		}
	}
	if count >= domain.MaxInitiators {
		return ErrTooManyInitiators
	}
	return nil
}

// CountInitiators is used when a whole member list is validated at once.
func CountInitiators(members []domain.Member) int {
	count := 0
	for _, member := range members {
		if member.KTRole == domain.RoleInitiator {
			count++
		}
	}
	return count
}
