package store

import (
	"time"

	"kttrack/api/internal/domain"
)

// Records mirror the table rows. Column names are snake_case on the wire and
// in NOTIFY payloads; the domain model is camelCase.

type projectRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Completion  int        `json:"completion"`
	Deadline    *time.Time `json:"deadline"`
	ManagerID   string     `json:"manager_id"`
	ManagerName string     `json:"manager_name"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (r projectRecord) toDomain() domain.Project {
	return domain.Project{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Status:      domain.ProjectStatus(r.Status),
		Completion:  r.Completion,
		Deadline:    r.Deadline,
		ManagerID:   r.ManagerID,
		ManagerName: r.ManagerName,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Members:     make([]domain.Member, 0),
		Sections:    make([]domain.Section, 0),
	}
}

func projectFromDomain(p domain.Project) projectRecord {
	return projectRecord{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      string(p.Status),
		Completion:  p.Completion,
		Deadline:    p.Deadline,
		ManagerID:   p.ManagerID,
		ManagerName: p.ManagerName,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type memberRecord struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	KTRole         string `json:"kt_role"`
	FunctionalRole string `json:"functional_role"`
}

func (r memberRecord) toDomain() domain.Member {
	return domain.Member{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		UserID:         r.UserID,
		Name:           r.Name,
		KTRole:         domain.KTRole(r.KTRole),
		FunctionalRole: r.FunctionalRole,
	}
}

func memberFromDomain(m domain.Member) memberRecord {
	return memberRecord{
		ID:             m.ID,
		ProjectID:      m.ProjectID,
		UserID:         m.UserID,
		Name:           m.Name,
		KTRole:         string(m.KTRole),
		FunctionalRole: m.FunctionalRole,
	}
}

type sectionRecord struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Content       string  `json:"content"`
	Status        string  `json:"status"`
	ContributorID *string `json:"contributor_id"`
	Order         int     `json:"order"`
}

func (r sectionRecord) toDomain() domain.Section {
	return domain.Section{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		Title:         r.Title,
		Description:   r.Description,
		Content:       r.Content,
		Status:        domain.SectionStatus(r.Status),
		ContributorID: r.ContributorID,
		Order:         r.Order,
		Attachments:   make([]domain.Attachment, 0),
		Comments:      make([]domain.Comment, 0),
	}
}

func sectionFromDomain(s domain.Section) sectionRecord {
	return sectionRecord{
		ID:            s.ID,
		ProjectID:     s.ProjectID,
		Title:         s.Title,
		Description:   s.Description,
		Content:       s.Content,
		Status:        string(s.Status),
		ContributorID: s.ContributorID,
		Order:         s.Order,
	}
}

type attachmentRecord struct {
	ID             string    `json:"id"`
	SectionID      string    `json:"section_id"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	ContentType    string    `json:"content_type"`
	URL            string    `json:"url"`
	UploadedBy     string    `json:"uploaded_by"`
	UploadedByName string    `json:"uploaded_by_name"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

func (r attachmentRecord) toDomain() domain.Attachment {
	return domain.Attachment{
		ID:             r.ID,
		SectionID:      r.SectionID,
		FileName:       r.FileName,
		FileSize:       r.FileSize,
		ContentType:    r.ContentType,
		URL:            r.URL,
		UploadedBy:     r.UploadedBy,
		UploadedByName: r.UploadedByName,
		UploadedAt:     r.UploadedAt,
	}
}

type commentRecord struct {
	ID         string    `json:"id"`
	SectionID  string    `json:"section_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r commentRecord) toDomain() domain.Comment {
	return domain.Comment{
		ID:         r.ID,
		SectionID:  r.SectionID,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		Text:       r.Text,
		CreatedAt:  r.CreatedAt,
	}
}

type templateRecord struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Order         int       `json:"order"`
	AttachmentURL string    `json:"attachment_url"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r templateRecord) toDomain() domain.Template {
	return domain.Template{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Order:         r.Order,
		AttachmentURL: r.AttachmentURL,
		CreatedAt:     r.CreatedAt,
	}
}

type userRecord struct {
	ID            string
	Username      string
	DisplayName   string
	Email         string
	PasswordHash  string
	Role          string
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

func (r userRecord) toDomain() domain.User {
	return domain.User{
		ID:            r.ID,
		Username:      r.Username,
		DisplayName:   r.DisplayName,
		Email:         r.Email,
		PasswordHash:  r.PasswordHash,
		Role:          domain.AppRole(r.Role),
		CreatedAt:     r.CreatedAt,
		DeactivatedAt: r.DeactivatedAt,
	}
}
