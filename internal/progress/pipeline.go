package progress

import (
	"sort"

	"kttrack/api/internal/domain"
)

type ChangeKind int

const (
	ChangeStatus ChangeKind = iota + 1
	ChangeContent
	ChangeAddAttachment
	ChangeRemoveAttachment
	ChangeAddComment
	ChangeAddSection
	ChangeRemoveSection
)

// Change describes one edit to a project's section list.
type Change struct {
	Kind         ChangeKind
	SectionID    string
	Status       domain.SectionStatus
	Content      *string
	Attachment   domain.Attachment
	AttachmentID string
	Comment      domain.Comment
	Section      domain.Section
}

func StatusChange(sectionID string, status domain.SectionStatus, content *string) Change {
	return Change{Kind: ChangeStatus, SectionID: sectionID, Status: status, Content: content}
}

// ContentChange stores new content; status carries the status that results
// from the edit (it may have reverted to Draft).
func ContentChange(sectionID, content string, status domain.SectionStatus) Change {
	return Change{Kind: ChangeContent, SectionID: sectionID, Status: status, Content: &content}
}

func AttachmentAdded(sectionID string, attachment domain.Attachment) Change {
	return Change{Kind: ChangeAddAttachment, SectionID: sectionID, Attachment: attachment}
}

func AttachmentRemoved(sectionID, attachmentID string) Change {
	return Change{Kind: ChangeRemoveAttachment, SectionID: sectionID, AttachmentID: attachmentID}
}

func CommentAdded(sectionID string, comment domain.Comment) Change {
	return Change{Kind: ChangeAddComment, SectionID: sectionID, Comment: comment}
}

func SectionAdded(section domain.Section) Change {
	return Change{Kind: ChangeAddSection, SectionID: section.ID, Section: section}
}

func SectionRemoved(sectionID string) Change {
	return Change{Kind: ChangeRemoveSection, SectionID: sectionID}
}

// NextSections is the first stage of the recompute pipeline: it returns a new
// section list with change applied and leaves old untouched. Changes that
// reference an unknown section return an unchanged copy.
func NextSections(old []domain.Section, change Change) []domain.Section {
	next := make([]domain.Section, 0, len(old)+1)
	for _, section := range old {
		if change.Kind == ChangeRemoveSection && section.ID == change.SectionID {
			continue
		}
		section = section.Clone()
		if section.ID == change.SectionID {
			section = applyToSection(section, change)
		}
		next = append(next, section)
	}
	if change.Kind == ChangeAddSection {
		next = append(next, change.Section.Clone())
		sort.SliceStable(next, func(i, j int) bool { return next[i].Order < next[j].Order })
	}
	return next
}

func applyToSection(section domain.Section, change Change) domain.Section {
	switch change.Kind {
	case ChangeStatus:
		section.Status = change.Status
		if change.Content != nil {
			section.Content = *change.Content
		}
	case ChangeContent:
		if change.Content != nil {
			section.Content = *change.Content
		}
		if change.Status != "" {
			section.Status = change.Status
		}
	case ChangeAddAttachment:
		section.Attachments = append(section.Attachments, change.Attachment)
	case ChangeRemoveAttachment:
		kept := make([]domain.Attachment, 0, len(section.Attachments))
		for _, attachment := range section.Attachments {
			if attachment.ID != change.AttachmentID {
				kept = append(kept, attachment)
			}
		}
		section.Attachments = kept
	case ChangeAddComment:
		section.Comments = append(section.Comments, change.Comment)
	}
	return section
}
