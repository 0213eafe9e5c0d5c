// Package email sends collaborator notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	send   sendFunc
}

func NewService(config Config) *Service {
	return &Service{config: config, send: smtp.SendMail}
}

// IsConfigured reports whether host, port and sender are all set.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) deliver(to []string, subject, text, html string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg, err := s.compose(to, subject, text, html)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	addr := s.config.Host + ":" + s.config.Port
	if err := s.send(addr, auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// compose builds a multipart/alternative message with a text part first.
func (s *Service) compose(to []string, subject, text, html string) ([]byte, error) {
	var body bytes.Buffer
	parts := multipart.NewWriter(&body)
	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", html},
	} {
		w, err := parts.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := parts.Close(); err != nil {
		return nil, fmt.Errorf("close mime body: %w", err)
	}

	from := (&mail.Address{Name: s.config.FromName, Address: s.config.From}).String()
	if s.config.FromName == "" {
		from = s.config.From
	}

	var msg bytes.Buffer
	headers := [][2]string{
		{"From", from},
		{"To", strings.Join(to, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `multipart/alternative; boundary="` + parts.Boundary() + `"`},
	}
	for _, h := range headers {
		msg.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

type InviteData struct {
	AppName     string
	InviteeName string
	InviterName string
	ProjectName string
	Level       string
	ProjectURL  string
}

// SendCollaboratorInvite tells a user they were added to a project.
func (s *Service) SendCollaboratorInvite(to string, data InviteData) error {
	if data.AppName == "" {
		data.AppName = "Site Builder"
	}
	var html bytes.Buffer
	if err := inviteTemplate.Execute(&html, data); err != nil {
		return fmt.Errorf("render invite: %w", err)
	}
	subject := fmt.Sprintf("%s shared %q with you", data.InviterName, data.ProjectName)
	text := fmt.Sprintf("%s gave you %s access to %s.\r\nOpen it here: %s\r\n",
		data.InviterName, data.Level, data.ProjectName, data.ProjectURL)
	return s.deliver([]string{to}, subject, text, html.String())
}

var inviteTemplate = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222; max-width: 560px; margin: 0 auto;">
  <h2>{{.AppName}}</h2>
  <p>Hi {{with .InviteeName}}{{.}}{{else}}there{{end}},</p>
  <p>{{.InviterName}} gave you <strong>{{.Level}}</strong> access to <strong>{{.ProjectName}}</strong>.</p>
  <p><a href="{{.ProjectURL}}">Open the project</a></p>
  <p style="font-size: 12px; color: #777;">You received this because you were added as a collaborator.</p>
</body>
</html>`))
