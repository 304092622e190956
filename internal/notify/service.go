// Package notify sends review e-mails over SMTP when sections change hands
// between contributors and receivers.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"kttrack/api/internal/domain"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Kind string

const (
	KindSubmitted     Kind = "submitted"
	KindClarification Kind = "clarification"
	KindUnderstood    Kind = "understood"
	KindCompleted     Kind = "completed"
)

// Message describes one review event. Section is empty for KindCompleted.
type Message struct {
	Kind    Kind
	Project domain.Project
	Section domain.Section
	Actor   string
	To      []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send renders and delivers m. Recipients without an address are skipped;
// with none left it does nothing.
func (s *Service) Send(m Message) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	to := make([]string, 0, len(m.To))
	for _, addr := range m.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return nil
	}

	subject, body, err := render(m)
	if err != nil {
		return err
	}
	return s.send(s.server, s.auth, s.config.From, to, s.envelope(to, subject, body))
}

func (s *Service) envelope(to []string, subject, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	return msg.Bytes()
}

var subjects = map[Kind]string{
	KindSubmitted:     "Ready for review: %s",
	KindClarification: "Clarification requested: %s",
	KindUnderstood:    "Marked understood: %s",
	KindCompleted:     "Knowledge transfer completed: %s",
}

var bodies = map[Kind]string{
	KindSubmitted:     `<p>{{.Actor}} submitted <strong>{{.Section.Title}}</strong> in {{.Project.Name}} for your review.</p>`,
	KindClarification: `<p>{{.Actor}} asked for clarification on <strong>{{.Section.Title}}</strong> in {{.Project.Name}}.</p>`,
	KindUnderstood:    `<p>{{.Actor}} marked <strong>{{.Section.Title}}</strong> in {{.Project.Name}} as understood.</p>`,
	KindCompleted:     `<p>{{.Actor}} signed off {{.Project.Name}}. All sections are now read-only.</p>`,
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2>{{.Title}}</h2>
  {{.Body}}
  <p style="margin-top: 30px; font-size: 12px; color: #666;">Project progress: {{.Completion}}%</p>
</body>
</html>`))

func render(m Message) (string, string, error) {
	format, ok := subjects[m.Kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind %q", m.Kind)
	}
	subject := fmt.Sprintf(format, m.Project.Name)
	if m.Section.Title != "" {
		subject = fmt.Sprintf(format, m.Section.Title)
	}

	var inner bytes.Buffer
	if err := template.Must(template.New("body").Parse(bodies[m.Kind])).Execute(&inner, m); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", m.Kind, err)
	}

	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title      string
		Body       template.HTML
		Completion int
	}{Title: subject, Body: template.HTML(inner.String()), Completion: m.Project.Completion})
	if err != nil {
		return "", "", fmt.Errorf("render %s page: %w", m.Kind, err)
	}
	return subject, out.String(), nil
}
