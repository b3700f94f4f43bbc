package transport

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// Email delivers over SMTP. No ecosystem SMTP client ships in the
// example pack or has a clear edge over the standard library for this
// single-message, no-attachment use case, so this one transport is
// stdlib net/smtp rather than a third-party client (see DESIGN.md).
//
// ChannelAddr is the recipient address. SMTP server settings come from
// the fields below rather than from the channel row: outbound mail
// configuration is operator-level, not per-channel.
type Email struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

func (Email) Kind() string { return "email" }

func (Email) IsNoop(Notification) bool { return false }

func (e Email) Send(ctx context.Context, n Notification) error {
	if e.Host == "" {
		return permanentf("email: smtp host not configured")
	}

	addr := net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
	subject := fmt.Sprintf("%s is %s", n.CheckName, n.CheckStatus)
	body := fmt.Sprintf("Check %q (%s) transitioned to %s (reason: %s).\n\n%s/checks/%s\n",
		n.CheckName, n.CheckCode, n.CheckStatus, n.Reason, strings.TrimRight(n.SiteRoot, "/"), n.CheckCode)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.From, n.ChannelAddr, subject, body)

	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, e.From, []string{n.ChannelAddr}, []byte(msg))
	}()

	select {
	case <-ctx.Done():
		return transientf("email %s: %w", n.ChannelAddr, ctx.Err())
	case err := <-done:
		if err == nil {
			return nil
		}
		return classifySMTPErr(n.ChannelAddr, err)
	}
}

func classifySMTPErr(addr string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such user") ||
		strings.Contains(msg, "mailbox unavailable") ||
		strings.Contains(msg, "authentication") {
		return permanentf("email %s: %w", addr, err)
	}
	return transientf("email %s: %w", addr, err)
}
