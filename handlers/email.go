package handlers

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/step"
	"go.uber.org/zap"
)

type Email struct {
	From    string
	To      []string
	Subject string
	Body    string
	HTML    string
}

type EmailSender interface {
	Send(ctx context.Context, email Email) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type SMTPSender struct {
	config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(config SMTPConfig) *SMTPSender {
	if config.Port == 0 {
		config.Port = 587
	}
	return &SMTPSender{config: config, send: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if email.From == "" {
		email.From = s.config.From
	}
	if email.From == "" {
		email.From = s.config.Username
	}
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	return s.send(addr, auth, email.From, email.To, buildMessage(email))
}

// buildMessage renders a plain text message, or multipart/alternative when
// an HTML body is present.
func buildMessage(email Email) []byte {
	var b strings.Builder
	b.WriteString("From: " + email.From + "\r\n")
	b.WriteString("To: " + strings.Join(email.To, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", email.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	if email.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
		b.WriteString(email.Body)
		return []byte(b.String())
	}
	const boundary = "crmflow-alternative"
	b.WriteString("Content-Type: multipart/alternative; boundary=\"" + boundary + "\"\r\n\r\n")
	b.WriteString("--" + boundary + "\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n" + email.Body + "\r\n")
	b.WriteString("--" + boundary + "\r\nContent-Type: text/html; charset=\"utf-8\"\r\n\r\n" + email.HTML + "\r\n")
	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

// EmailHandler sends config.to (string, comma list or list) the
// config.subject and config.body. Without a sender the step succeeds with
// sent=false.
func EmailHandler(sender EmailSender) step.Handler {
	return step.HandlerFunc(func(ctx context.Context, _ *model.ExecutionContext, ins step.Instruction) (any, error) {
		to := recipients(ins.Config["to"])
		if len(to) == 0 {
			return nil, fmt.Errorf("step %s: at least one recipient is required", ins.Step.Id)
		}
		if sender == nil {
			logger.Warn("smtp not configured, skipping email", zap.String("execution", ins.ExecutionID), zap.String("step", ins.Step.Id))
			return map[string]any{"sent": false, "to": to}, nil
		}
		email := Email{To: to}
		email.From, _ = ins.Config["from"].(string)
		email.Subject, _ = ins.Config["subject"].(string)
		email.Body, _ = ins.Config["body"].(string)
		email.HTML, _ = ins.Config["html"].(string)
		if err := sender.Send(ctx, email); err != nil {
			return nil, err
		}
		return map[string]any{"sent": true, "to": to}, nil
	})
}

func recipients(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			raw = append(raw, fmt.Sprintf("%v", item))
		}
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
