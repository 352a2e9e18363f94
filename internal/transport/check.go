// internal/transport/check.go
package transport

import "context"

// Check performs the one-shot connectivity pre-check: open a session,
// authenticate, disconnect. The returned error keeps its classification so
// callers can distinguish bad credentials from an unreachable relay.
func Check(ctx context.Context, d Dialer, host string, port int, username, password string) error {
	sess, err := d.Dial(ctx, host, port)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Authenticate(username, password)
}
