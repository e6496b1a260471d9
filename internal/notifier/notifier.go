// Package notifier sends templated plaintext emails on member lifecycle
// events. Sending is always best-effort: callers commit their data change
// first and surface send failures as warnings.
package notifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"gymkiosk/internal/config"
	"gymkiosk/internal/metrics"
	"gymkiosk/internal/model"
)

// ErrNotConfigured means SMTP credentials have not been saved yet.
var ErrNotConfigured = errors.New("smtp settings not configured")

// Notifier sends member emails through an authenticated SMTP submission
// connection. Credentials are re-read from the settings file on every
// send so staff edits apply immediately.
type Notifier struct {
	settings *config.SettingsFile
	host     string
	port     int
	timeout  time.Duration
}

// New creates a notifier for the given relay.
func New(settings *config.SettingsFile, host string, port int, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Notifier{settings: settings, host: host, port: port, timeout: timeout}
}

// MemberRegistered emails the registration confirmation.
func (n *Notifier) MemberRegistered(m model.Member) error {
	return n.send(m.Email, "Gym Registration Successful", registrationBody(m))
}

// MemberUpdated emails the membership change notice.
func (n *Notifier) MemberUpdated(m model.Member) error {
	return n.send(m.Email, "Gym Membership Updated", updateBody(m))
}

// MemberDeleted emails the deletion notice.
func (n *Notifier) MemberDeleted(m model.Member) error {
	return n.send(m.Email, "Gym Membership Deleted", deletionBody(m))
}

func registrationBody(m model.Member) string {
	return fmt.Sprintf(
		"Hello %s,\n\nYour registration is successful.\nMember ID: %s\nMembership: %s\nFee: ₹%s\nJoin Date: %s\n\nRegards,\nGym Team",
		m.Name, m.ID, m.Membership, model.FormatFee(m.Fee), m.JoinDate.Format(model.DateLayout),
	)
}

func updateBody(m model.Member) string {
	return fmt.Sprintf(
		"Hello %s,\n\nYour membership details have been updated.\nMember ID: %s\nMembership: %s\nFee: ₹%s\n\nRegards,\nGym Team",
		m.Name, m.ID, m.Membership, model.FormatFee(m.Fee),
	)
}

func deletionBody(m model.Member) string {
	return fmt.Sprintf(
		"Hello %s,\n\nYour membership (ID: %s) has been deleted.\n\nRegards,\nGym Team",
		m.Name, m.ID,
	)
}

func (n *Notifier) send(to, subject, body string) error {
	settings, err := n.settings.Load()
	if err != nil {
		metrics.NotificationFailures.Inc()
		return err
	}
	if !settings.Configured() {
		return ErrNotConfigured
	}
	if to == "" {
		metrics.NotificationFailures.Inc()
		return errors.New("member has no email address")
	}

	msg := mail.NewMsg()
	if err := msg.From(settings.AdminEmail); err != nil {
		metrics.NotificationFailures.Inc()
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		metrics.NotificationFailures.Inc()
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(n.host,
		mail.WithPort(n.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(settings.AdminEmail),
		mail.WithPassword(settings.AdminPass),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(n.timeout),
	)
	if err != nil {
		metrics.NotificationFailures.Inc()
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSend(msg); err != nil {
		metrics.NotificationFailures.Inc()
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
