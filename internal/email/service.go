// Package email sends prayer assignment notices over SMTP.
package email

import (
	"bytes"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"
	"text/template"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   SendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// WithSender swaps the transport, for tests.
func (s *Service) WithSender(send SendFunc) *Service {
	s.send = send
	return s
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Address extracts a deliverable address from a free-form contact field.
// Phone numbers and other non-addresses yield ok=false.
func Address(contact string) (string, bool) {
	contact = strings.TrimSpace(contact)
	if !strings.Contains(contact, "@") {
		return "", false
	}
	parsed, err := mail.ParseAddress(contact)
	if err != nil {
		return "", false
	}
	return parsed.Address, true
}

func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = (&mail.Address{Name: s.config.FromName, Address: s.config.From}).String()
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		strings.ReplaceAll(body, "\n", "\r\n"),
	))

	return s.send(s.server, s.auth, s.config.From, to, msg)
}

type AssignmentData struct {
	StaffName   string
	Requester   string
	Body        string
	SubmittedAt string
}

// SendPrayerAssigned tells a staff member a prayer request is now theirs.
func (s *Service) SendPrayerAssigned(to string, data AssignmentData) error {
	body, err := renderTemplate(assignmentTemplate, data)
	if err != nil {
		return fmt.Errorf("render assignment template: %w", err)
	}
	return s.SendEmail([]string{to}, "A prayer request was assigned to you", body)
}

var assignmentTemplate = template.Must(template.New("assignment").Parse(`Hi {{.StaffName}},

A prayer request from {{.Requester}} was assigned to you.

{{.Body}}

Submitted {{.SubmittedAt}}. Reply from the staff page when you are ready.
`))

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
