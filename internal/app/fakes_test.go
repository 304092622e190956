package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"kttrack/api/internal/blob"
	"kttrack/api/internal/domain"
	"kttrack/api/internal/history"
	"kttrack/api/internal/notify"
	"kttrack/api/internal/state"
	"kttrack/api/internal/store"
)

type fakeStore struct {
	mu    sync.Mutex
	calls []string

	pingFn                  func(context.Context) error
	insertProjectFn         func(context.Context, domain.Project) (domain.Project, error)
	updateProjectProgressFn func(context.Context, string, int, domain.ProjectStatus) error
	updateProjectStatusFn   func(context.Context, string, domain.ProjectStatus) error
	insertMemberFn          func(context.Context, domain.Member) error
	updateMemberFn          func(context.Context, domain.Member) error
	deleteMemberFn          func(context.Context, string, string) error
	insertSectionFn         func(context.Context, domain.Section) error
	updateSectionStatusFn   func(context.Context, string, domain.SectionStatus, *string) error
	insertAttachmentFn      func(context.Context, domain.Attachment) (domain.Attachment, error)
	listTemplatesFn         func(context.Context) ([]domain.Template, error)
	getUserByIDFn           func(context.Context, string) (domain.User, error)
	getUserByUsernameFn     func(context.Context, string) (domain.User, error)
}

func (f *fakeStore) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) called(name string) bool {
	for _, call := range f.Calls() {
		if call == name {
			return true
		}
	}
	return false
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) InsertProject(ctx context.Context, project domain.Project) (domain.Project, error) {
	f.record("InsertProject")
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, project)
	}
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt
	return project, nil
}

func (f *fakeStore) UpdateProjectProgress(ctx context.Context, projectID string, completion int, status domain.ProjectStatus) error {
	f.record("UpdateProjectProgress")
	if f.updateProjectProgressFn != nil {
		return f.updateProjectProgressFn(ctx, projectID, completion, status)
	}
	return nil
}

func (f *fakeStore) UpdateProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus) error {
	f.record("UpdateProjectStatus")
	if f.updateProjectStatusFn != nil {
		return f.updateProjectStatusFn(ctx, projectID, status)
	}
	return nil
}

func (f *fakeStore) DeleteProject(context.Context, string) error {
	f.record("DeleteProject")
	return nil
}

func (f *fakeStore) InsertMember(ctx context.Context, member domain.Member) error {
	f.record("InsertMember")
	if f.insertMemberFn != nil {
		return f.insertMemberFn(ctx, member)
	}
	return nil
}

func (f *fakeStore) UpdateMember(ctx context.Context, member domain.Member) error {
	f.record("UpdateMember")
	if f.updateMemberFn != nil {
		return f.updateMemberFn(ctx, member)
	}
	return nil
}

func (f *fakeStore) DeleteMember(ctx context.Context, projectID, userID string) error {
	f.record("DeleteMember")
	if f.deleteMemberFn != nil {
		return f.deleteMemberFn(ctx, projectID, userID)
	}
	return nil
}

func (f *fakeStore) InsertSection(ctx context.Context, section domain.Section) error {
	f.record("InsertSection")
	if f.insertSectionFn != nil {
		return f.insertSectionFn(ctx, section)
	}
	return nil
}

func (f *fakeStore) UpdateSectionStatus(ctx context.Context, sectionID string, status domain.SectionStatus, content *string) error {
	f.record("UpdateSectionStatus")
	if f.updateSectionStatusFn != nil {
		return f.updateSectionStatusFn(ctx, sectionID, status, content)
	}
	return nil
}

func (f *fakeStore) AssignSection(context.Context, string, *string) error {
	f.record("AssignSection")
	return nil
}

func (f *fakeStore) DeleteSection(context.Context, string) error {
	f.record("DeleteSection")
	return nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, attachment domain.Attachment) (domain.Attachment, error) {
	f.record("InsertAttachment")
	if f.insertAttachmentFn != nil {
		return f.insertAttachmentFn(ctx, attachment)
	}
	attachment.UploadedAt = time.Now()
	return attachment, nil
}

func (f *fakeStore) DeleteAttachment(context.Context, string) error {
	f.record("DeleteAttachment")
	return nil
}

func (f *fakeStore) InsertComment(_ context.Context, comment domain.Comment) (domain.Comment, error) {
	f.record("InsertComment")
	comment.CreatedAt = time.Now()
	return comment, nil
}

func (f *fakeStore) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	if f.listTemplatesFn != nil {
		return f.listTemplatesFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) GetTemplate(_ context.Context, templateID string) (domain.Template, error) {
	return domain.Template{ID: templateID, Title: "Runbook", Description: "How to operate it"}, nil
}

func (f *fakeStore) InsertTemplate(_ context.Context, template domain.Template) (domain.Template, error) {
	f.record("InsertTemplate")
	return template, nil
}

func (f *fakeStore) UpdateTemplate(context.Context, domain.Template) error { return nil }
func (f *fakeStore) DeleteTemplate(context.Context, string) error          { return nil }
func (f *fakeStore) ListUsers(context.Context) ([]domain.User, error)      { return nil, nil }

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return domain.User{ID: userID, DisplayName: userID}, nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	if f.getUserByUsernameFn != nil {
		return f.getUserByUsernameFn(ctx, username)
	}
	return domain.User{}, nil
}

func (f *fakeStore) InsertUser(_ context.Context, user domain.User) (domain.User, error) {
	f.record("InsertUser")
	return user, nil
}

func (f *fakeStore) UpdateUser(context.Context, domain.User) error { return nil }
func (f *fakeStore) DeactivateUser(context.Context, string) error  { return nil }

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string]int64
}

func (f *fakeBlobs) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) (blob.Object, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return blob.Object{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]int64{}
	}
	f.objects[key] = int64(len(data))
	return blob.Object{Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (f *fakeBlobs) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

type fakeHistory struct {
	mu       sync.Mutex
	recorded []string
}

func (f *fakeHistory) Record(projectID string, section domain.Section, author string) (history.Revision, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, section.ID+":"+section.Content)
	return history.Revision{Hash: "abc", Author: author}, true, nil
}

func (f *fakeHistory) SectionHistory(string, string, int) ([]history.Revision, error) {
	return []history.Revision{{Hash: "abc"}}, nil
}

func (f *fakeHistory) RemoveProject(string) error { return nil }

type fakeMailer struct {
	sent chan notify.Message
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) Send(m notify.Message) error {
	f.sent <- m
	return nil
}

const (
	managerID     = "usr_mgr"
	contributorID = "usr_c"
	receiverID    = "usr_r"
	outsiderID    = "usr_x"
)

var (
	manager     = Viewer{UserID: managerID, Name: "Mona", Role: domain.AppRoleManager}
	contributor = Viewer{UserID: contributorID, Name: "Cas", Role: domain.AppRoleUser}
	receiver    = Viewer{UserID: receiverID, Name: "Rui", Role: domain.AppRoleUser}
	outsider    = Viewer{UserID: outsiderID, Name: "Oz", Role: domain.AppRoleUser}
	admin       = Viewer{UserID: "usr_admin", Name: "Ada", Role: domain.AppRoleAdmin}
)

// seedProject is a two-section project with one contributor and one
// receiver, nothing started yet.
func seedProject() domain.Project {
	return domain.Project{
		ID:          "prj_1",
		Name:        "Payments handover",
		Status:      domain.ProjectNotStarted,
		ManagerID:   managerID,
		ManagerName: "Mona",
		Members: []domain.Member{
			{ID: "mem_c", ProjectID: "prj_1", UserID: contributorID, Name: "Cas", KTRole: domain.RoleContributor},
			{ID: "mem_r", ProjectID: "prj_1", UserID: receiverID, Name: "Rui", KTRole: domain.RoleReceiver},
		},
		Sections: []domain.Section{
			{ID: "sec_a", ProjectID: "prj_1", Title: "Architecture", Status: domain.SectionDraft, Order: 1, Attachments: []domain.Attachment{}, Comments: []domain.Comment{}},
			{ID: "sec_b", ProjectID: "prj_1", Title: "On-call", Status: domain.SectionDraft, Order: 2, Attachments: []domain.Attachment{}, Comments: []domain.Comment{}},
		},
	}
}

func newTestService(fs *fakeStore, projects ...domain.Project) (*Service, *state.Store) {
	st := state.New()
	st.Replace(projects)
	svc := NewService(Deps{Store: fs, State: st, Blobs: &fakeBlobs{}, History: &fakeHistory{}})
	return svc, st
}

func newStateWith(projects ...domain.Project) *state.Store {
	st := state.New()
	st.Replace(projects)
	return st
}

func storeNotFound() error {
	return fmt.Errorf("get user: %w", store.ErrNotFound)
}
