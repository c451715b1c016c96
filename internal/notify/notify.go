// Package notify sends the end-of-sweep notification.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Notifier delivers a one-off message.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Completion returns the subject and body announcing a finished sweep.
func Completion(logID string, numRuns int, runtime time.Duration) (subject, body string) {
	subject = fmt.Sprintf("Chaos Run %s Complete", logID)
	body = fmt.Sprintf("%d Run for ID %s for Chaos is done.\nJob runtime: %s", numRuns, logID, runtime)
	return subject, body
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails notifications through an SMTP relay. smtp.SendMail
// upgrades the connection with STARTTLS when the server offers it.
type SMTPNotifier struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string

	now      func() time.Time
	sendMail sendMailFunc
}

// NewSMTPNotifier returns a notifier for the relay at host:port.
func NewSMTPNotifier(host string, port int, username, password, from string, to []string) *SMTPNotifier {
	return &SMTPNotifier{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		To:       append([]string(nil), to...),
		now:      time.Now,
		sendMail: smtp.SendMail,
	}
}

// Send implements Notifier. smtp.SendMail takes no context, so ctx is only
// checked before connecting.
func (n *SMTPNotifier) Send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(n.To) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	var auth smtp.Auth
	if n.Username != "" {
		auth = smtp.PlainAuth("", n.Username, n.Password, n.Host)
	}

	now := n.now
	if now == nil {
		now = time.Now
	}
	send := n.sendMail
	if send == nil {
		send = smtp.SendMail
	}

	addr := net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
	msg := composeMessage(n.From, n.To, subject, body, now())
	if err := send(addr, auth, n.From, n.To, msg); err != nil {
		return fmt.Errorf("sending mail via %s: %w", addr, err)
	}
	return nil
}

func composeMessage(from string, to []string, subject, body string, date time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
