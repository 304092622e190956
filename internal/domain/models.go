// Package domain holds the KT tracker entities shared by every layer.
package domain

import "time"

type ProjectStatus string

const (
	ProjectNotStarted ProjectStatus = "Not Started"
	ProjectInProgress ProjectStatus = "In Progress"
	ProjectCompleted  ProjectStatus = "Completed"
	// ProjectActive is a legacy value still present in older rows; it is
	// treated like ProjectNotStarted.
	ProjectActive ProjectStatus = "Active"
)

type SectionStatus string

const (
	SectionDraft              SectionStatus = "Draft"
	SectionReadyForReview     SectionStatus = "Ready for Review"
	SectionNeedsClarification SectionStatus = "Needs Clarification"
	SectionUnderstood         SectionStatus = "Understood"
	SectionNotCovered         SectionStatus = "Not Covered"
)

type KTRole string

const (
	RoleInitiator   KTRole = "Initiator"
	RoleContributor KTRole = "Contributor"
	RoleReceiver    KTRole = "Receiver"
)

// MaxInitiators is the number of Initiator members a project may hold.
const MaxInitiators = 2

type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	Completion  int           `json:"completion"`
	Deadline    *time.Time    `json:"deadline,omitempty"`
	ManagerID   string        `json:"managerId"`
	ManagerName string        `json:"managerName"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Members     []Member      `json:"members"`
	Sections    []Section     `json:"sections"`
}

type Member struct {
	ID             string `json:"id"`
	ProjectID      string `json:"projectId"`
	UserID         string `json:"userId"`
	Name           string `json:"name"`
	KTRole         KTRole `json:"ktRole"`
	FunctionalRole string `json:"functionalRole"`
}

type Section struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"projectId"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Content       string        `json:"content"`
	Status        SectionStatus `json:"status"`
	ContributorID *string       `json:"contributorId"`
	Order         int           `json:"order"`
	Attachments   []Attachment  `json:"attachments"`
	Comments      []Comment     `json:"comments"`
}

type Attachment struct {
	ID             string    `json:"id"`
	SectionID      string    `json:"sectionId"`
	FileName       string    `json:"fileName"`
	FileSize       int64     `json:"fileSize"`
	ContentType    string    `json:"contentType"`
	URL            string    `json:"url"`
	UploadedBy     string    `json:"uploadedBy"`
	UploadedByName string    `json:"uploadedByName"`
	UploadedAt     time.Time `json:"uploadedAt"`
}

type Comment struct {
	ID         string    `json:"id"`
	SectionID  string    `json:"sectionId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Template struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Order         int       `json:"order"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type AppRole string

const (
	AppRoleAdmin   AppRole = "admin"
	AppRoleManager AppRole = "manager"
	AppRoleUser    AppRole = "user"
)

type User struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"displayName"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Role          AppRole    `json:"role"`
	CreatedAt     time.Time  `json:"createdAt"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}
