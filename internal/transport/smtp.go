// internal/transport/smtp.go
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	appErrors "github.com/mergekit/mailmerge-backend/internal/errors"
)

// DefaultConnectTimeout bounds session establishment when no explicit
// timeout is configured.
const DefaultConnectTimeout = 10 * time.Second

// SMTPDialer opens STARTTLS-upgraded SMTP sessions.
type SMTPDialer struct {
	// ConnectTimeout bounds the TCP dial; DefaultConnectTimeout when zero.
	ConnectTimeout time.Duration
	// TLSConfig overrides the config used for STARTTLS. ServerName is
	// filled in from the dialed host when nil.
	TLSConfig *tls.Config
}

func (d *SMTPDialer) Dial(ctx context.Context, host string, port int) (Session, error) {
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, &appErrors.TransportError{Op: "connect", Err: err}
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, &appErrors.TransportError{Op: "handshake", Err: err}
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		cfg := d.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: host}
		}
		if err := client.StartTLS(cfg); err != nil {
			client.Close()
			return nil, &appErrors.TransportError{Op: "starttls", Err: err}
		}
	}

	return &smtpSession{client: client, host: host}, nil
}

type smtpSession struct {
	client *smtp.Client
	host   string
}

func (s *smtpSession) Authenticate(username, password string) error {
	auth := smtp.PlainAuth("", username, password, s.host)
	if err := s.client.Auth(auth); err != nil {
		return &appErrors.AuthenticationError{Err: err}
	}
	return nil
}

func (s *smtpSession) Submit(from, to string, msg []byte) error {
	if err := s.client.Mail(from); err != nil {
		return classify("mail", err)
	}
	if err := s.client.Rcpt(to); err != nil {
		return classify("rcpt", err)
	}
	w, err := s.client.Data()
	if err != nil {
		return classify("data", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return &appErrors.TransportError{Op: "write", Err: err}
	}
	if err := w.Close(); err != nil {
		return classify("data close", err)
	}
	return nil
}

func (s *smtpSession) Close() error {
	return s.client.Quit()
}

// classify maps SMTP reply codes onto the error taxonomy. 530/534/535 are
// the authentication-required and credential-rejection replies.
func classify(op string, err error) error {
	var te *textproto.Error
	if errors.As(err, &te) {
		switch te.Code {
		case 530, 534, 535:
			return &appErrors.AuthenticationError{Err: err}
		}
	}
	return &appErrors.TransportError{Op: op, Err: err}
}
