// internal/transport/transport.go

// Package transport abstracts the store-and-forward mail relay behind a
// narrow connect/authenticate/submit/close contract. The delivery engine
// only sees this contract; the SMTP implementation lives next to it.
package transport

import "context"

// Session is one open relay connection. Callers authenticate once, submit
// one or more messages, then close.
type Session interface {
	// Authenticate logs in with the given credentials. Failures are
	// returned as *appErrors.AuthenticationError and must not be retried.
	Authenticate(username, password string) error
	// Submit hands one rendered message to the relay.
	Submit(from, to string, msg []byte) error
	Close() error
}

// Dialer opens sessions against a relay. Implementations bound connection
// establishment with a timeout.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Session, error)
}
