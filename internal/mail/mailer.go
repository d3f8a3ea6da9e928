package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-mail/mail/v2"

	"task-tracker/internal/config"
	"task-tracker/internal/service"
)

//go:embed templates
var templateFS embed.FS

const (
	digestTemplate = "overdue_digest.tmpl"
	dialTimeout    = 10 * time.Second
)

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// Mailer sends overdue digests by e-mail.
type Mailer struct {
	dialer dialer
	sender string
	tmpl   *template.Template
}

func New(cfg config.SMTP) (*Mailer, error) {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.Timeout = dialTimeout
	return newMailer(d, cfg.Sender)
}

func newMailer(d dialer, sender string) (*Mailer, error) {
	tmpl, err := template.New("email").ParseFS(templateFS, "templates/"+digestTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Mailer{dialer: d, sender: sender, tmpl: tmpl}, nil
}

type digestTask struct {
	Title       string
	Category    string
	Due         string
	Description string
}

type digestData struct {
	Name  string
	Date  string
	Count int
	Tasks []digestTask
}

// SendDigest mails the digest to the user's address. Users without an
// address are skipped.
func (m *Mailer) SendDigest(ctx context.Context, digest service.Digest) error {
	to := strings.TrimSpace(digest.User.Email)
	if to == "" || len(digest.Tasks) == 0 {
		return nil
	}
	name := strings.TrimSpace(digest.User.FirstName)
	if name == "" {
		name = digest.User.Username
	}
	data := digestData{
		Name:  name,
		Date:  digest.Now.Format("2006-01-02 15:04 MST"),
		Count: len(digest.Tasks),
	}
	for _, task := range digest.Tasks {
		item := digestTask{
			Title:       task.Title,
			Category:    digest.CategoryName(task),
			Description: strings.TrimSpace(task.Description),
		}
		if task.DueDate != nil {
			item.Due = task.DueDate.In(digest.Now.Location()).Format("2006-01-02 15:04")
		}
		data.Tasks = append(data.Tasks, item)
	}

	return m.send(ctx, to, data)
}

// send renders and delivers one message. The dial runs in its own goroutine
// so a cancelled ctx returns at once; the dialer timeout bounds the rest.
func (m *Mailer) send(ctx context.Context, to string, data any) error {
	var subject bytes.Buffer
	if err := m.tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	var plainBody bytes.Buffer
	if err := m.tmpl.ExecuteTemplate(&plainBody, "plainBody", data); err != nil {
		return fmt.Errorf("render plain body: %w", err)
	}
	var htmlBody bytes.Buffer
	if err := m.tmpl.ExecuteTemplate(&htmlBody, "htmlBody", data); err != nil {
		return fmt.Errorf("render html body: %w", err)
	}

	msg := mail.NewMessage()
	msg.SetHeader("To", to)
	msg.SetHeader("From", m.sender)
	msg.SetHeader("Subject", strings.TrimSpace(subject.String()))
	msg.SetBody("text/plain", plainBody.String())
	msg.AddAlternative("text/html", htmlBody.String())

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail to %s: %w", to, ctx.Err())
	}
}
