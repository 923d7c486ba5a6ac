// Package mailer sends one-time passcodes over SMTP.
package mailer

import (
	"context"
	"fmt"

	"github.com/vaulin/backend/internal/config"
	"github.com/vaulin/backend/internal/repository"
	"github.com/wneessen/go-mail"
)

// Mailer is the SMTP notification sender for OTP delivery
type Mailer struct {
	cfg *config.SMTPConfig
}

// New creates a Mailer from SMTP configuration
func New(cfg *config.SMTPConfig) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return &Mailer{cfg: cfg}, nil
}

// SendOTP delivers a one-time passcode. The subject line names the purpose
// so users can tell a login prompt from a reset prompt.
func (m *Mailer) SendOTP(ctx context.Context, to string, purpose repository.OTPPurpose, code string) error {
	subject := subjectFor(purpose)
	body := fmt.Sprintf("Your one-time passcode is: %s. This code expires in 5 minutes.", code)

	msg := mail.NewMsg()

	if m.cfg.FromName != "" {
		if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(m.cfg.From); err != nil {
			return fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.User),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending OTP mail: %w", err)
	}

	return nil
}

// subjectFor maps an OTP purpose to its mail subject
func subjectFor(purpose repository.OTPPurpose) string {
	switch purpose {
	case repository.PurposeRegistration:
		return "Your Vaul-In registration code"
	case repository.PurposeLogin:
		return "Your Vaul-In login code"
	case repository.PurposeResetPassword:
		return "Your Vaul-In password reset code"
	default:
		return "Your Vaul-In OTP code"
	}
}
