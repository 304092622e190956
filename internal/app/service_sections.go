package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"kttrack/api/internal/blob"
	"kttrack/api/internal/domain"
	"kttrack/api/internal/notify"
	"kttrack/api/internal/progress"
	"kttrack/api/internal/util"
	"kttrack/api/internal/workflow"
)

const attachmentURLExpiry = 15 * time.Minute

// UpdateSectionStatus moves a section through the review workflow. content,
// when non-nil, is stored together with the new status. Updates to the same
// section never interleave.
func (s *Service) UpdateSectionStatus(ctx context.Context, viewer Viewer, projectID, sectionID string, status domain.SectionStatus, content *string) (domain.Project, error) {
	unlock := s.locks.Lock("section:" + sectionID)
	defer unlock()

	project, err := s.visibleProject(viewer, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	section, err := sectionOf(project, sectionID)
	if err != nil {
		return domain.Project{}, err
	}

	next := section.Content
	if content != nil {
		next = *content
	}
	actor := workflow.ResolveActor(project, section, viewer.UserID)
	if err := workflow.Check(workflow.Transition{
		ProjectStatus:  project.Status,
		From:           section.Status,
		To:             status,
		Actor:          actor,
		Content:        next,
		ContentChanged: next != section.Content,
	}); err != nil {
		return domain.Project{}, rejected(err)
	}

	if err := s.store.UpdateSectionStatus(ctx, sectionID, status, content); err != nil {
		return domain.Project{}, remote("update section status", err)
	}
	updated, err := s.commit(ctx, projectID, progress.StatusChange(sectionID, status, content))
	if err != nil {
		return domain.Project{}, err
	}

	if next != section.Content {
		s.recordRevision(updated, sectionID, viewer)
	}
	s.notifyTransition(updated, sectionID, status, authorName(project, viewer))
	return updated, nil
}

// SaveSectionContent stores new content. Changing the content of a section
// under review sends it back to Draft.
func (s *Service) SaveSectionContent(ctx context.Context, viewer Viewer, projectID, sectionID, content string) (domain.Project, error) {
	unlock := s.locks.Lock("section:" + sectionID)
	defer unlock()

	project, err := s.visibleProject(viewer, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	section, err := sectionOf(project, sectionID)
	if err != nil {
		return domain.Project{}, err
	}
	actor := workflow.ResolveActor(project, section, viewer.UserID)
	if err := workflow.CheckAuthoring(project.Status, actor); err != nil {
		return domain.Project{}, rejected(err)
	}

	status, changed := workflow.ContentEdit(section, content)
	if !changed {
		return project, nil
	}
	if status != section.Status {
		if err := workflow.Check(workflow.Transition{
			ProjectStatus:  project.Status,
			From:           section.Status,
			To:             status,
			Actor:          actor,
			Content:        content,
			ContentChanged: true,
		}); err != nil {
			return domain.Project{}, rejected(err)
		}
	}

	if err := s.store.UpdateSectionStatus(ctx, sectionID, status, &content); err != nil {
		return domain.Project{}, remote("save section content", err)
	}
	updated, err := s.commit(ctx, projectID, progress.ContentChange(sectionID, content, status))
	if err != nil {
		return domain.Project{}, err
	}
	s.recordRevision(updated, sectionID, viewer)
	return updated, nil
}

// AssignSection sets or clears the section's contributor.
func (s *Service) AssignSection(ctx context.Context, viewer Viewer, projectID, sectionID string, contributorID *string) (domain.Project, error) {
	unlock := s.locks.Lock("section:" + sectionID)
	defer unlock()

	project, err := s.managedProject(viewer, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if project.IsCompleted() {
		return domain.Project{}, rejected(workflow.ErrProjectCompleted)
	}
	if _, err := sectionOf(project, sectionID); err != nil {
		return domain.Project{}, err
	}
	if contributorID != nil && *contributorID == "" {
		contributorID = nil
	}
	if contributorID != nil {
		member, ok := project.Member(*contributorID)
		if !ok || member.KTRole == domain.RoleReceiver {
			return domain.Project{}, invalid("contributor must be an Initiator or Contributor of the project")
		}
	}

	if err := s.store.AssignSection(ctx, sectionID, contributorID); err != nil {
		return domain.Project{}, remote("assign section", err)
	}
	var updated domain.Project
	s.state.Apply(projectID, func(current domain.Project) domain.Project {
		if i := current.SectionIndex(sectionID); i >= 0 {
			current.Sections[i].ContributorID = contributorID
		}
		updated = current
		return current
	})
	return updated, nil
}

func (s *Service) AddComment(ctx context.Context, viewer Viewer, projectID, sectionID, text string) (domain.Comment, error) {
	project, err := s.visibleProject(viewer, projectID)
	if err != nil {
		return domain.Comment{}, err
	}
	if project.IsCompleted() {
		return domain.Comment{}, rejected(workflow.ErrProjectCompleted)
	}
	if _, err := sectionOf(project, sectionID); err != nil {
		return domain.Comment{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, invalid("comment text is required")
	}

	comment, err := s.store.InsertComment(ctx, domain.Comment{
		ID:         util.NewID("cmt"),
		SectionID:  sectionID,
		AuthorID:   viewer.UserID,
		AuthorName: authorName(project, viewer),
		Text:       text,
	})
	if err != nil {
		return domain.Comment{}, remote("add comment", err)
	}
	if _, err := s.commit(ctx, projectID, progress.CommentAdded(sectionID, comment)); err != nil {
		return domain.Comment{}, err
	}
	return comment, nil
}

type Upload struct {
	FileName    string
	Size        int64
	ContentType string
	Body        io.Reader
}

// AddAttachment stores the file in the blob store, then records it. The
// first attachment on an untouched project starts the work on it.
func (s *Service) AddAttachment(ctx context.Context, viewer Viewer, projectID, sectionID string, upload Upload) (domain.Attachment, error) {
	project, err := s.visibleProject(viewer, projectID)
	if err != nil {
		return domain.Attachment{}, err
	}
	section, err := sectionOf(project, sectionID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if err := workflow.CheckAuthoring(project.Status, workflow.ResolveActor(project, section, viewer.UserID)); err != nil {
		return domain.Attachment{}, rejected(err)
	}
	if strings.TrimSpace(upload.FileName) == "" {
		return domain.Attachment{}, invalid("file name is required")
	}
	if s.blobs == nil {
		return domain.Attachment{}, remote("store attachment", blob.ErrNotConfigured)
	}

	id := util.NewID("att")
	key := blob.ObjectKey(projectID, sectionID, id, upload.FileName)
	object, err := s.blobs.Put(ctx, key, upload.Body, upload.Size, upload.ContentType)
	if err != nil {
		return domain.Attachment{}, remote("store attachment", err)
	}

	attachment, err := s.store.InsertAttachment(ctx, domain.Attachment{
		ID:             id,
		SectionID:      sectionID,
		FileName:       upload.FileName,
		FileSize:       object.Size,
		ContentType:    object.ContentType,
		URL:            object.Key,
		UploadedBy:     viewer.UserID,
		UploadedByName: authorName(project, viewer),
	})
	if err != nil {
		s.removeBlob(key)
		return domain.Attachment{}, remote("add attachment", err)
	}
	if _, err := s.commit(ctx, projectID, progress.AttachmentAdded(sectionID, attachment)); err != nil {
		return domain.Attachment{}, err
	}
	return attachment, nil
}

func (s *Service) RemoveAttachment(ctx context.Context, viewer Viewer, projectID, sectionID, attachmentID string) (domain.Project, error) {
	project, err := s.visibleProject(viewer, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	section, err := sectionOf(project, sectionID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := workflow.CheckAuthoring(project.Status, workflow.ResolveActor(project, section, viewer.UserID)); err != nil {
		return domain.Project{}, rejected(err)
	}
	attachment, ok := findAttachment(section, attachmentID)
	if !ok {
		return domain.Project{}, notFound("attachment")
	}

	if err := s.store.DeleteAttachment(ctx, attachmentID); err != nil {
		return domain.Project{}, remote("remove attachment", err)
	}
	updated, err := s.commit(ctx, projectID, progress.AttachmentRemoved(sectionID, attachmentID))
	if err != nil {
		return domain.Project{}, err
	}
	s.removeBlob(attachment.URL)
	return updated, nil
}

// AttachmentURL returns a short-lived download link.
func (s *Service) AttachmentURL(ctx context.Context, viewer Viewer, projectID, sectionID, attachmentID string) (string, error) {
	project, err := s.visibleProject(viewer, projectID)
	if err != nil {
		return "", err
	}
	section, err := sectionOf(project, sectionID)
	if err != nil {
		return "", err
	}
	attachment, ok := findAttachment(section, attachmentID)
	if !ok {
		return "", notFound("attachment")
	}
	if s.blobs == nil {
		return "", remote("sign attachment url", blob.ErrNotConfigured)
	}
	url, err := s.blobs.PresignedURL(ctx, attachment.URL, attachmentURLExpiry)
	if err != nil {
		return "", remote("sign attachment url", err)
	}
	return url, nil
}

type SectionInput struct {
	TemplateID    string  `json:"templateId"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	ContributorID *string `json:"contributorId"`
}

// AddSection appends a Draft section, copied from a template when
// TemplateID is set.
func (s *Service) AddSection(ctx context.Context, viewer Viewer, projectID string, input SectionInput) (domain.Project, error) {
	project, err := s.managedProject(viewer, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if project.IsCompleted() {
		return domain.Project{}, rejected(workflow.ErrProjectCompleted)
	}
	if input.TemplateID != "" {
		template, err := s.store.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return domain.Project{}, remote("load template", err)
		}
		if input.Title == "" {
			input.Title = template.Title
		}
		if input.Description == "" {
			input.Description = template.Description
		}
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return domain.Project{}, invalid("section title is required")
	}
	if input.ContributorID != nil && *input.ContributorID == "" {
		input.ContributorID = nil
	}
	if input.ContributorID != nil {
		if _, ok := project.Member(*input.ContributorID); !ok {
			return domain.Project{}, invalid("contributor must be a project member")
		}
	}

	section := domain.Section{
		ID:            util.NewID("sec"),
		ProjectID:     projectID,
		Title:         input.Title,
		Description:   input.Description,
		Status:        domain.SectionDraft,
		ContributorID: input.ContributorID,
		Order:         project.NextSectionOrder(),
		Attachments:   []domain.Attachment{},
		Comments:      []domain.Comment{},
	}
	if err := s.store.InsertSection(ctx, section); err != nil {
		return domain.Project{}, remote("add section", err)
	}
	return s.commit(ctx, projectID, progress.SectionAdded(section))
}

// RemoveSection deletes a section nobody has worked on yet.
func (s *Service) RemoveSection(ctx context.Context, viewer Viewer, projectID, sectionID string) (domain.Project, error) {
	unlock := s.locks.Lock("section:" + sectionID)
	defer unlock()

	project, err := s.managedProject(viewer, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if project.IsCompleted() {
		return domain.Project{}, rejected(workflow.ErrProjectCompleted)
	}
	section, err := sectionOf(project, sectionID)
	if err != nil {
		return domain.Project{}, err
	}
	if progress.Engaged(section) {
		return domain.Project{}, rejected(ErrSectionEngaged)
	}

	if err := s.store.DeleteSection(ctx, sectionID); err != nil {
		return domain.Project{}, remote("remove section", err)
	}
	updated, err := s.commit(ctx, projectID, progress.SectionRemoved(sectionID))
	if err != nil {
		return domain.Project{}, err
	}
	if s.search != nil {
		s.search.DeleteSection(sectionID)
	}
	return updated, nil
}

func findAttachment(section domain.Section, attachmentID string) (domain.Attachment, bool) {
	for _, attachment := range section.Attachments {
		if attachment.ID == attachmentID {
			return attachment, true
		}
	}
	return domain.Attachment{}, false
}

func (s *Service) recordRevision(project domain.Project, sectionID string, viewer Viewer) {
	if s.history == nil {
		return
	}
	section, err := sectionOf(project, sectionID)
	if err != nil {
		return
	}
	if _, _, err := s.history.Record(project.ID, section, authorName(project, viewer)); err != nil {
		s.logger.Warn("section revision not recorded",
			zap.String("project_id", project.ID),
			zap.String("section_id", sectionID),
			zap.Error(err),
		)
	}
}

func (s *Service) removeBlob(key string) {
	if s.blobs == nil || key == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.blobs.Remove(ctx, key); err != nil {
			s.logger.Warn("attachment object not removed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// notifyTransition mails whoever has to act next.
func (s *Service) notifyTransition(project domain.Project, sectionID string, status domain.SectionStatus, actor string) {
	section, err := sectionOf(project, sectionID)
	if err != nil {
		return
	}
	var kind notify.Kind
	var userIDs []string
	switch status {
	case domain.SectionReadyForReview:
		kind = notify.KindSubmitted
		for _, member := range project.MembersWithRole(domain.RoleReceiver) {
			userIDs = append(userIDs, member.UserID)
		}
	case domain.SectionNeedsClarification, domain.SectionUnderstood:
		kind = notify.KindClarification
		if status == domain.SectionUnderstood {
			kind = notify.KindUnderstood
		}
		if section.ContributorID != nil {
			userIDs = append(userIDs, *section.ContributorID)
		}
	default:
		return
	}
	s.mail(notify.Message{Kind: kind, Project: project, Section: section, Actor: actor}, userIDs)
}

// mail resolves recipients and sends in the background.
func (s *Service) mail(message notify.Message, userIDs []string) {
	if s.mailer == nil || !s.mailer.IsConfigured() || len(userIDs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, userID := range userIDs {
			user, err := s.store.GetUserByID(ctx, userID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Warn("notification recipient lookup failed", zap.String("user_id", userID), zap.Error(err))
				}
				continue
			}
			if user.Email != "" && user.DeactivatedAt == nil {
				message.To = append(message.To, user.Email)
			}
		}
		if err := s.mailer.Send(message); err != nil {
			s.logger.Warn("notification not sent", zap.String("kind", string(message.Kind)), zap.Error(err))
		}
	}()
}
