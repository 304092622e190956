package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kttrack/api/internal/domain"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const projectColumns = `id, name, description, status, completion, deadline, manager_id, manager_name, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (projectRecord, error) {
	var r projectRecord
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Status, &r.Completion, &r.Deadline, &r.ManagerID, &r.ManagerName, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListProjects loads every project with its members, sections, attachments
// and comments. Sections are ordered by "order", comments by creation time.
func (s *PostgresStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	index := map[string]int{}
	for rows.Next() {
		record, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		index[record.ID] = len(projects)
		projects = append(projects, record.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}

	if err := s.attachRelations(ctx, projects, index, ""); err != nil {
		return nil, err
	}
	return projects, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	record, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("get project: %w", err)
	}
	projects := []domain.Project{record.toDomain()}
	if err := s.attachRelations(ctx, projects, map[string]int{record.ID: 0}, projectID); err != nil {
		return domain.Project{}, err
	}
	return projects[0], nil
}

// attachRelations fills members and sections for projects. projectID limits
// the queries to a single project when set.
func (s *PostgresStore) attachRelations(ctx context.Context, projects []domain.Project, index map[string]int, projectID string) error {
	members, err := s.queryMembers(ctx, projectID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if i, ok := index[member.ProjectID]; ok {
			projects[i].Members = append(projects[i].Members, member)
		}
	}

	sections, err := s.querySections(ctx, projectID)
	if err != nil {
		return err
	}
	sectionIndex := map[string][2]int{}
	for _, section := range sections {
		i, ok := index[section.ProjectID]
		if !ok {
			continue
		}
		sectionIndex[section.ID] = [2]int{i, len(projects[i].Sections)}
		projects[i].Sections = append(projects[i].Sections, section)
	}

	attachments, err := s.queryAttachments(ctx, projectID)
	if err != nil {
		return err
	}
	for _, attachment := range attachments {
		if at, ok := sectionIndex[attachment.SectionID]; ok {
			section := &projects[at[0]].Sections[at[1]]
			section.Attachments = append(section.Attachments, attachment)
		}
	}

	comments, err := s.queryComments(ctx, projectID)
	if err != nil {
		return err
	}
	for _, comment := range comments {
		if at, ok := sectionIndex[comment.SectionID]; ok {
			section := &projects[at[0]].Sections[at[1]]
			section.Comments = append(section.Comments, comment)
		}
	}
	return nil
}

func (s *PostgresStore) queryMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, name, kt_role, functional_role
		FROM project_members
		WHERE ($1 = '' OR project_id = $1)
		ORDER BY project_id, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Member, 0)
	for rows.Next() {
		var r memberRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.UserID, &r.Name, &r.KTRole, &r.FunctionalRole); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, r.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) querySections(ctx context.Context, projectID string) ([]domain.Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, description, content, status, contributor_id, "order"
		FROM sections
		WHERE ($1 = '' OR project_id = $1)
		ORDER BY project_id, "order", id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Section, 0)
	for rows.Next() {
		var r sectionRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Title, &r.Description, &r.Content, &r.Status, &r.ContributorID, &r.Order); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, r.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) queryAttachments(ctx context.Context, projectID string) ([]domain.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.section_id, a.file_name, a.file_size, a.content_type, a.url, a.uploaded_by, a.uploaded_by_name, a.uploaded_at
		FROM attachments a
		JOIN sections s ON s.id = a.section_id
		WHERE ($1 = '' OR s.project_id = $1)
		ORDER BY a.uploaded_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Attachment, 0)
	for rows.Next() {
		var r attachmentRecord
		if err := rows.Scan(&r.ID, &r.SectionID, &r.FileName, &r.FileSize, &r.ContentType, &r.URL, &r.UploadedBy, &r.UploadedByName, &r.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, r.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) queryComments(ctx context.Context, projectID string) ([]domain.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.section_id, c.author_id, c.author_name, c.text, c.created_at
		FROM comments c
		JOIN sections s ON s.id = c.section_id
		WHERE ($1 = '' OR s.project_id = $1)
		ORDER BY c.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Comment, 0)
	for rows.Next() {
		var r commentRecord
		if err := rows.Scan(&r.ID, &r.SectionID, &r.AuthorID, &r.AuthorName, &r.Text, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, r.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// InsertProject writes the project row only and returns it with the
// database-assigned timestamps.
func (s *PostgresStore) InsertProject(ctx context.Context, project domain.Project) (domain.Project, error) {
	r := projectFromDomain(project)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, description, status, completion, deadline, manager_id, manager_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, r.ID, r.Name, r.Description, r.Status, r.Completion, r.Deadline, r.ManagerID, r.ManagerName).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) UpdateProjectProgress(ctx context.Context, projectID string, completion int, status domain.ProjectStatus) error {
	return s.execOne(ctx, "update project progress", `
		UPDATE projects SET completion=$2, status=$3, updated_at=NOW() WHERE id=$1
	`, projectID, completion, string(status))
}

func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus) error {
	return s.execOne(ctx, "update project status", `
		UPDATE projects SET status=$2, updated_at=NOW() WHERE id=$1
	`, projectID, string(status))
}

// DeleteProject removes the project; members, sections, attachments and
// comments go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	return s.execOne(ctx, "delete project", `DELETE FROM projects WHERE id=$1`, projectID)
}

func (s *PostgresStore) InsertMember(ctx context.Context, member domain.Member) error {
	r := memberFromDomain(member)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, name, kt_role, functional_role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.ProjectID, r.UserID, r.Name, r.KTRole, r.FunctionalRole)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMember(ctx context.Context, member domain.Member) error {
	r := memberFromDomain(member)
	return s.execOne(ctx, "update member", `
		UPDATE project_members SET name=$3, kt_role=$4, functional_role=$5
		WHERE project_id=$1 AND user_id=$2
	`, r.ProjectID, r.UserID, r.Name, r.KTRole, r.FunctionalRole)
}

func (s *PostgresStore) DeleteMember(ctx context.Context, projectID, userID string) error {
	return s.execOne(ctx, "delete member", `
		DELETE FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID)
}

func (s *PostgresStore) InsertSection(ctx context.Context, section domain.Section) error {
	r := sectionFromDomain(section)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sections (id, project_id, title, description, content, status, contributor_id, "order")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.ProjectID, r.Title, r.Description, r.Content, r.Status, r.ContributorID, r.Order)
	if err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

// UpdateSectionStatus writes status, and content when it is non-nil.
func (s *PostgresStore) UpdateSectionStatus(ctx context.Context, sectionID string, status domain.SectionStatus, content *string) error {
	if content == nil {
		return s.execOne(ctx, "update section status", `UPDATE sections SET status=$2 WHERE id=$1`, sectionID, string(status))
	}
	return s.execOne(ctx, "update section status", `
		UPDATE sections SET status=$2, content=$3 WHERE id=$1
	`, sectionID, string(status), *content)
}

func (s *PostgresStore) AssignSection(ctx context.Context, sectionID string, contributorID *string) error {
	return s.execOne(ctx, "assign section", `UPDATE sections SET contributor_id=$2 WHERE id=$1`, sectionID, contributorID)
}

func (s *PostgresStore) DeleteSection(ctx context.Context, sectionID string) error {
	return s.execOne(ctx, "delete section", `DELETE FROM sections WHERE id=$1`, sectionID)
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, attachment domain.Attachment) (domain.Attachment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (id, section_id, file_name, file_size, content_type, url, uploaded_by, uploaded_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING uploaded_at
	`, attachment.ID, attachment.SectionID, attachment.FileName, attachment.FileSize, attachment.ContentType, attachment.URL, attachment.UploadedBy, attachment.UploadedByName).Scan(&attachment.UploadedAt)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return attachment, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	return s.execOne(ctx, "delete attachment", `DELETE FROM attachments WHERE id=$1`, attachmentID)
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment domain.Comment) (domain.Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, section_id, author_id, author_name, text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, comment.ID, comment.SectionID, comment.AuthorID, comment.AuthorName, comment.Text).Scan(&comment.CreatedAt)
	if err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, "order", attachment_url, created_at
		FROM templates
		ORDER BY "order", title
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Template, 0)
	for rows.Next() {
		var r templateRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Order, &r.AttachmentURL, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, r.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (domain.Template, error) {
	var r templateRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, "order", attachment_url, created_at FROM templates WHERE id=$1
	`, templateID).Scan(&r.ID, &r.Title, &r.Description, &r.Order, &r.AttachmentURL, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, ErrNotFound
	}
	if err != nil {
		return domain.Template{}, fmt.Errorf("get template: %w", err)
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, template domain.Template) (domain.Template, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO templates (id, title, description, "order", attachment_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, template.ID, template.Title, template.Description, template.Order, template.AttachmentURL).Scan(&template.CreatedAt)
	if err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	return template, nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, template domain.Template) error {
	return s.execOne(ctx, "update template", `
		UPDATE templates SET title=$2, description=$3, "order"=$4, attachment_url=$5 WHERE id=$1
	`, template.ID, template.Title, template.Description, template.Order, template.AttachmentURL)
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) error {
	return s.execOne(ctx, "delete template", `DELETE FROM templates WHERE id=$1`, templateID)
}

const userColumns = `id, username, display_name, email, password_hash, role, created_at, deactivated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var r userRecord
	if err := row.Scan(&r.ID, &r.Username, &r.DisplayName, &r.Email, &r.PasswordHash, &r.Role, &r.CreatedAt, &r.DeactivatedAt); err != nil {
		return domain.User{}, err
	}
	return r.toDomain(), nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username)=LOWER($1)`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by username: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, user.ID, user.Username, user.DisplayName, user.Email, user.PasswordHash, string(user.Role)).Scan(&user.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// UpdateUser writes profile fields and role. The password hash is only
// replaced when user.PasswordHash is non-empty.
func (s *PostgresStore) UpdateUser(ctx context.Context, user domain.User) error {
	return s.execOne(ctx, "update user", `
		UPDATE users
		SET display_name=$2, email=$3, role=$4,
			password_hash=CASE WHEN $5 = '' THEN password_hash ELSE $5 END
		WHERE id=$1
	`, user.ID, user.DisplayName, user.Email, string(user.Role), user.PasswordHash)
}

func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string) error {
	return s.execOne(ctx, "deactivate user", `
		UPDATE users SET deactivated_at=NOW() WHERE id=$1 AND deactivated_at IS NULL
	`, userID)
}

// execOne runs a statement that must touch exactly one row.
func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
