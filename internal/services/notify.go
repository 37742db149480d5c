package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/KuldeepProzo/ProCompliance/internal/config"
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Audience selects the framing of a digest.
type Audience string

const (
	AudienceMaker      Audience = "maker"
	AudienceChecker    Audience = "checker"
	AudienceAdmin      Audience = "admin"
	AudienceAssignment Audience = "assignment"
)

type Recipient struct {
	Email string
	Name  string
}

// ErrMailerDisabled is returned when no SMTP host is configured. Callers
// treat it as a delivery failure, never as a crash.
var ErrMailerDisabled = errors.New("mailer not configured")

// Notifier delivers obligation mail. Implementations must honor the
// context deadline and return an error on any non-delivery.
type Notifier interface {
	SendDigest(ctx context.Context, to Recipient, tasks []*models.Task, audience Audience) error
	SendAssignment(ctx context.Context, to Recipient, task *models.Task) error
	SendSubmission(ctx context.Context, to Recipient, task *models.Task) error
	SendReopened(ctx context.Context, to Recipient, task *models.Task, actor string) error
	SendEditRequest(ctx context.Context, to []string, task *models.Task, requester string) error
	SendRegistration(ctx context.Context, to Recipient, tempPassword string) error
	SendPasswordReset(ctx context.Context, to Recipient, resetURL string) error
}

// SMTPNotifier sends plain-text mail over SMTP with bounded retries.
type SMTPNotifier struct {
	cfg    config.MailConfig
	logger *zap.Logger
}

func NewSMTPNotifier(cfg config.MailConfig, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:    cfg,
		logger: logger.With(zap.String("service", "notifier")),
	}
}

func (n *SMTPNotifier) enabled() bool { return n.cfg.Host != "" }

func taskLines(tasks []*models.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		statusLabel := "Pending"
		if t.Status == models.StatusCompleted {
			// Completed without a due date never renews.
			if t.HasDueDate() {
				statusLabel = "Renewal Needed"
			} else {
				statusLabel = "Completed"
			}
		}
		category, company := "", ""
		if t.Category != nil {
			category = t.Category.Name
		}
		if t.Company != nil {
			company = t.Company.Name
		}
		fmt.Fprintf(&b, "- %s | Location / Site: %s | Category: %s | Maker: %s | Checker: %s | Due: %s | %s\n",
			t.Title, company, category, t.Maker, t.Checker, t.DueDate, statusLabel)
	}
	return b.String()
}

func (n *SMTPNotifier) SendDigest(ctx context.Context, to Recipient, tasks []*models.Task, audience Audience) error {
	if len(tasks) == 0 {
		return nil
	}
	var subject, intro string
	switch audience {
	case AudienceAssignment:
		subject = fmt.Sprintf("[Assigned] %d new compliances", len(tasks))
		intro = "You have been assigned the following new compliances."
	case AudienceAdmin:
		subject = fmt.Sprintf("[Reminder] %d compliances need attention", len(tasks))
		intro = "Below are the compliances that need attention across the organization."
	default:
		subject = fmt.Sprintf("[Reminder] %d compliances need your attention", len(tasks))
		intro = "Below are the compliances which need your attention."
	}
	name := to.Name
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf("Hi %s,\n\n%s\n\nVisit %s/#/tasks to view these compliances.\n\n%s",
		name, intro, n.cfg.AppURL, taskLines(tasks))
	return n.deliver(ctx, strings.Split(to.Email, ","), subject, body)
}

func (n *SMTPNotifier) SendAssignment(ctx context.Context, to Recipient, task *models.Task) error {
	subject := fmt.Sprintf("[Assigned] %s", task.Title)
	body := fmt.Sprintf("Hi %s,\n\nYou have been assigned a new compliance. Please review the details below.\n\n%s\nVisit %s/#/edit/%d to view this compliance.",
		to.Name, taskLines([]*models.Task{task}), n.cfg.AppURL, task.ID)
	return n.deliver(ctx, []string{to.Email}, subject, body)
}

func (n *SMTPNotifier) SendSubmission(ctx context.Context, to Recipient, task *models.Task) error {
	subject := fmt.Sprintf("[Action Required] %s submitted for review", task.Title)
	body := fmt.Sprintf("Hi %s,\n\nA compliance has been submitted for your review.\n\n%s\nVisit %s/#/edit/%d to view this compliance.",
		to.Name, taskLines([]*models.Task{task}), n.cfg.AppURL, task.ID)
	return n.deliver(ctx, []string{to.Email}, subject, body)
}

func (n *SMTPNotifier) SendReopened(ctx context.Context, to Recipient, task *models.Task, actor string) error {
	if actor == "" {
		actor = "An admin"
	}
	subject := fmt.Sprintf("[Reopened for Edits] %s", task.Title)
	body := fmt.Sprintf("Hi %s,\n\n%s has reopened the compliance for edits. Please make the required changes.\n\n%s\nVisit %s/#/edit/%d to edit this compliance.",
		to.Name, actor, taskLines([]*models.Task{task}), n.cfg.AppURL, task.ID)
	return n.deliver(ctx, []string{to.Email}, subject, body)
}

func (n *SMTPNotifier) SendEditRequest(ctx context.Context, to []string, task *models.Task, requester string) error {
	if requester == "" {
		requester = "Maker"
	}
	subject := fmt.Sprintf("[Edit Request] %s", task.Title)
	body := fmt.Sprintf("Hi,\n\n%s has requested to edit the following compliance:\n\n%s\nVisit %s/#/edit/%d to view this compliance.\nYou can reopen it as pending to allow edits.",
		requester, taskLines([]*models.Task{task}), n.cfg.AppURL, task.ID)
	return n.deliver(ctx, to, subject, body)
}

func (n *SMTPNotifier) SendRegistration(ctx context.Context, to Recipient, tempPassword string) error {
	subject := "Welcome to ProCompliance"
	body := fmt.Sprintf("Hi %s,\n\nYou have been registered on ProCompliance.\n\nLogin URL: %s\nEmail: %s\nTemporary password: %s\nPlease click \"Forgot password\" on the login page and reset your password after first login.",
		to.Name, n.cfg.AppURL, to.Email, tempPassword)
	return n.deliver(ctx, []string{to.Email}, subject, body)
}

func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, to Recipient, resetURL string) error {
	subject := "Password Reset - ProCompliance"
	body := fmt.Sprintf("Hi %s,\n\nWe received a request to reset your password.\n\nReset link (valid for 1 hour): %s\n\nIf you did not request this, you can ignore this email.",
		to.Name, resetURL)
	return n.deliver(ctx, []string{to.Email}, subject, body)
}

func (n *SMTPNotifier) deliver(ctx context.Context, to []string, subject, body string) error {
	rcpts := make([]string, 0, len(to))
	for _, r := range to {
		if r = strings.TrimSpace(r); r != "" {
			rcpts = append(rcpts, r)
		}
	}
	if len(rcpts) == 0 {
		return fmt.Errorf("no recipients for %q", subject)
	}
	if !n.enabled() {
		return ErrMailerDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
	defer cancel()

	msg := buildMessage(n.cfg.From, rcpts, subject, body)
	op := func() error { return n.send(ctx, rcpts, msg) }
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(n.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		n.logger.Warn("Mail delivery failed",
			zap.Strings("to", rcpts),
			zap.String("subject", subject),
			zap.Error(err))
		return err
	}
	n.logger.Info("Mail delivered", zap.Strings("to", rcpts), zap.String("subject", subject))
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: ProCompliance <%s>\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func (n *SMTPNotifier) send(ctx context.Context, rcpts []string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprintf("%d", n.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return err
		}
	}
	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(n.cfg.From); err != nil {
		return err
	}
	for _, r := range rcpts {
		if err := c.Rcpt(r); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
