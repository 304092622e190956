// Package report renders a project's progress as HTML and, through headless
// Chrome, as PDF.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"kttrack/api/internal/domain"
	"kttrack/api/internal/progress"
)

var ErrPDFDependencyMissing = errors.New("pdf renderer unavailable")

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

type sectionRow struct {
	domain.Section
	Contributor string
	Weight      float64
}

type reportData struct {
	Project     domain.Project
	Sections    []sectionRow
	Counts      map[domain.SectionStatus]int
	Statuses    []domain.SectionStatus
	GeneratedAt time.Time
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string { return t.Format("2 Jan 2006") },
	"percent":    func(w float64) string { return fmt.Sprintf("%.0f%%", w*100) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Project.Name}} progress</title>
<style>
  body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #222; margin: 0; }
  h1 { margin-bottom: 4px; }
  .meta { color: #666; font-size: 12px; }
  .bar { height: 10px; background: #eee; border-radius: 5px; margin: 12px 0 24px; }
  .bar span { display: block; height: 10px; background: #2f7d32; border-radius: 5px; }
  table { width: 100%; border-collapse: collapse; font-size: 12px; }
  th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #ddd; }
  .summary td { border: none; padding: 2px 8px; }
</style>
</head>
<body>
  <h1>{{.Project.Name}}</h1>
  <div class="meta">
    Manager: {{.Project.ManagerName}} · Status: {{.Project.Status}}{{if .Project.Deadline}} · Deadline: {{formatDate .Project.Deadline}}{{end}} · Generated {{formatDate .GeneratedAt}}
  </div>
  {{if .Project.Description}}<p>{{.Project.Description}}</p>{{end}}
  <h2>{{.Project.Completion}}% complete</h2>
  <div class="bar"><span style="width: {{.Project.Completion}}%"></span></div>

  <table class="summary">
    {{range .Statuses}}<tr><td>{{.}}</td><td>{{index $.Counts .}}</td></tr>{{end}}
  </table>

  <h2>Sections</h2>
  <table>
    <tr><th>#</th><th>Section</th><th>Contributor</th><th>Status</th><th>Weight</th><th>Attachments</th><th>Comments</th></tr>
    {{range $i, $s := .Sections}}
    <tr>
      <td>{{$s.Order}}</td>
      <td>{{$s.Title}}</td>
      <td>{{$s.Contributor}}</td>
      <td>{{$s.Status}}</td>
      <td>{{percent $s.Weight}}</td>
      <td>{{len $s.Attachments}}</td>
      <td>{{len $s.Comments}}</td>
    </tr>
    {{end}}
  </table>

  <h2>Team</h2>
  <table>
    <tr><th>Name</th><th>KT role</th><th>Role</th></tr>
    {{range .Project.Members}}<tr><td>{{.Name}}</td><td>{{.KTRole}}</td><td>{{.FunctionalRole}}</td></tr>{{end}}
  </table>
</body>
</html>`))

// RenderHTML builds the progress report for project.
func RenderHTML(project domain.Project, generatedAt time.Time) (string, error) {
	names := map[string]string{}
	for _, member := range project.Members {
		names[member.UserID] = member.Name
	}

	data := reportData{
		Project:     project,
		Counts:      map[domain.SectionStatus]int{},
		GeneratedAt: generatedAt,
		Statuses: []domain.SectionStatus{
			domain.SectionDraft,
			domain.SectionReadyForReview,
			domain.SectionNeedsClarification,
			domain.SectionUnderstood,
			domain.SectionNotCovered,
		},
	}
	for _, section := range project.Sections {
		contributor := "Unassigned"
		if section.ContributorID != nil {
			if name, ok := names[*section.ContributorID]; ok {
				contributor = name
			}
		}
		data.Counts[section.Status]++
		data.Sections = append(data.Sections, sectionRow{
			Section:     section,
			Contributor: contributor,
			Weight:      progress.Weight(section.Status),
		})
	}

	var out bytes.Buffer
	if err := reportTemplate.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out.String(), nil
}

// Renderer turns a project into a downloadable report.
type Renderer struct {
	timeout time.Duration
	pdf     func(ctx context.Context, html string) ([]byte, error)
}

func NewRenderer(timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{timeout: timeout, pdf: printPDF}
}

func (r *Renderer) HTML(project domain.Project) (Result, error) {
	html, err := RenderHTML(project, time.Now())
	if err != nil {
		return Result{}, err
	}
	return Result{
		Data:     []byte(html),
		Filename: sanitizeFilename(project.Name) + ".html",
		MimeType: "text/html; charset=utf-8",
	}, nil
}

func (r *Renderer) PDF(ctx context.Context, project domain.Project) (Result, error) {
	html, err := RenderHTML(project, time.Now())
	if err != nil {
		return Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.pdf(ctx, html)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Data:     data,
		Filename: sanitizeFilename(project.Name) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
