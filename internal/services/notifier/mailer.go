package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	config "github.com/NordCoder/Pingwatch/internal/config/pingwatch"
	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"go.uber.org/zap"
)

const defaultSMTPTimeout = 10 * time.Second

// Mailer delivers alerts over SMTP to a fixed recipient list.
type Mailer struct {
	addr       string
	host       string
	auth       smtp.Auth
	useTLS     bool
	timeout    time.Duration
	from       string
	to         []string
	subjPrefix string

	log *zap.Logger
}

var _ alert.Channel = (*Mailer)(nil)

func NewMailer(cfg config.SMTP) *Mailer {
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	return &Mailer{
		addr:       cfg.Addr(),
		host:       cfg.Host,
		auth:       auth,
		useTLS:     cfg.UseTLS,
		timeout:    timeout,
		from:       cfg.From,
		to:         cfg.To,
		subjPrefix: cfg.SubjPrefix,
		log:        zap.L().With(zap.String("component", "notifier.mailer")),
	}
}

func (m *Mailer) WithLogger(l *zap.Logger) *Mailer {
	if l == nil {
		return m
	}
	cp := *m
	cp.log = l.With(zap.String("component", "notifier.mailer"))
	return &cp
}

func (m *Mailer) Name() string { return "email" }

func (m *Mailer) Send(ctx context.Context, svc service.Service, kind alert.Kind, d alert.Details) error {
	return m.SendMail(ctx, subject(svc, kind), summary(svc, kind, d))
}

// SendMail writes one message addressed to every recipient.
func (m *Mailer) SendMail(ctx context.Context, subj, body string) error {
	subj = strings.TrimSpace(m.subjPrefix + " " + subj)
	msg := []byte(
		"From: " + m.from + "\r\n" +
			"To: " + strings.Join(m.to, ", ") + "\r\n" +
			"Subject: " + subj + "\r\n" +
			"Date: " + time.Now().Format(time.RFC1123Z) + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + strings.ReplaceAll(body, "\n", "\r\n") + "\r\n")

	start := time.Now()
	log := m.log.With(
		zap.String("smtp_addr", m.addr),
		zap.Bool("tls", m.useTLS),
		zap.Strings("to", m.to),
		zap.String("subject", subj),
	)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(ctx)
	if err != nil {
		log.Error("smtp dial failed", zap.Error(err))
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		_ = conn.Close()
		log.Error("smtp client failed", zap.Error(err))
		return err
	}
	defer func() { _ = c.Close() }()

	if !m.useTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
				log.Error("smtp STARTTLS failed", zap.Error(err))
				return err
			}
		}
	}
	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				log.Error("smtp auth failed", zap.Error(err))
				return err
			}
		}
	}
	if err := c.Mail(m.from); err != nil {
		log.Error("smtp MAIL FROM failed", zap.Error(err))
		return err
	}
	for _, rcpt := range m.to {
		if err := c.Rcpt(rcpt); err != nil {
			log.Error("smtp RCPT TO failed", zap.String("rcpt", rcpt), zap.Error(err))
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		log.Error("smtp DATA failed", zap.Error(err))
		return err
	}
	if _, err = w.Write(msg); err != nil {
		log.Error("smtp write failed", zap.Error(err))
		return err
	}
	if err := w.Close(); err != nil {
		log.Error("smtp close failed", zap.Error(err))
		return err
	}
	_ = c.Quit()

	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (m *Mailer) dial(ctx context.Context) (net.Conn, error) {
	if m.useTLS {
		d := tls.Dialer{Config: &tls.Config{ServerName: m.host}}
		conn, err := d.DialContext(ctx, "tcp", m.addr)
		if err != nil {
			return nil, fmt.Errorf("tls dial %s: %w", m.addr, err)
		}
		return conn, nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.addr, err)
	}
	return conn, nil
}
