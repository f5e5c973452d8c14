// Package email sends account and approval notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
	"time"
)

const appName = "Buildtrack"

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

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
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

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("email: no recipients")
	}
	msg := buildMessage(s.fromHeader(), to, subject, textBody, htmlBody, time.Now())
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
}

func buildMessage(from string, to []string, subject, textBody, htmlBody string, now time.Time) []byte {
	boundary := fmt.Sprintf("buildtrack-%d", now.UnixNano())

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// ApprovalDecisionData describes a decided approval for the requester.
type ApprovalDecisionData struct {
	AppName      string
	UserName     string
	ProjectName  string
	SubjectType  string
	SubjectTitle string
	Decision     string
	DecidedBy    string
	Note         string
	LinkURL      string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{AppName: appName, UserName: userName, VerificationURL: verificationURL}
	html, err := renderTemplate(verificationTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	text := fmt.Sprintf("Welcome, %s. Verify your email address: %s\nThe link expires in 24 hours.", userName, verificationURL)
	return s.SendHTMLEmail([]string{to}, "Verify your "+appName+" account", text, html)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: appName, UserName: userName, ResetURL: resetURL}
	html, err := renderTemplate(passwordResetTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Hi %s, reset your password here: %s\nThe link expires in 1 hour.", userName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+appName+" password", text, html)
}

// SendApprovalDecisionEmail tells the requester an approval was decided.
func (s *Service) SendApprovalDecisionEmail(to string, data ApprovalDecisionData) error {
	data.AppName = appName
	html, err := renderTemplate(approvalDecisionTemplate, data)
	if err != nil {
		return fmt.Errorf("render approval template: %w", err)
	}
	subject := fmt.Sprintf("%s %s: %s", capitalize(data.SubjectType), strings.ToLower(data.Decision), data.SubjectTitle)
	text := fmt.Sprintf("Hi %s, %s %s the %s %q on %s.", data.UserName, data.DecidedBy, strings.ToLower(data.Decision), data.SubjectType, data.SubjectTitle, data.ProjectName)
	if data.Note != "" {
		text += "\nNote: " + data.Note
	}
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var (
	verificationTemplate     = template.Must(template.New("verification").Parse(layoutTemplate + verificationBody))
	passwordResetTemplate    = template.Must(template.New("reset").Parse(layoutTemplate + passwordResetBody))
	approvalDecisionTemplate = template.Must(template.New("approval").Parse(layoutTemplate + approvalDecisionBody))
)

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutTemplate = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #e08a00; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #e08a00; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .note { background: #f6f6f6; padding: 12px; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    {{template "body" .}}
</body>
</html>{{end}}`

const verificationBody = `{{define "body"}}
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Please verify your email address to activate your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p>This verification link will expire in 24 hours.</p>
    <div class="footer">If you didn't create an account with {{.AppName}}, you can ignore this email.</div>
{{end}}`

const passwordResetBody = `{{define "body"}}
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password.</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p><strong>This reset link will expire in 1 hour.</strong></p>
    <div class="footer">If you didn't request a password reset, your password will remain unchanged.</div>
{{end}}`

const approvalDecisionBody = `{{define "body"}}
    <p>Hi {{.UserName}},</p>
    <p>{{.DecidedBy}} <strong>{{.Decision}}</strong> the {{.SubjectType}} <em>{{.SubjectTitle}}</em> on {{.ProjectName}}.</p>
    {{if .Note}}<p class="note">{{.Note}}</p>{{end}}
    {{if .LinkURL}}<p><a href="{{.LinkURL}}" class="button">Open in {{.AppName}}</a></p>{{end}}
{{end}}`
