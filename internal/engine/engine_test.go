package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	appErrors "github.com/mergekit/mailmerge-backend/internal/errors"
	"github.com/mergekit/mailmerge-backend/internal/model"
	"github.com/mergekit/mailmerge-backend/internal/transport"
)

// stubDialer scripts per-recipient outcomes and counts delivery attempts.
type stubDialer struct {
	mu       sync.Mutex
	attempts map[string]int
	// fail returns the error for a given recipient and attempt number
	// (1-based); nil means the submit succeeds.
	fail func(to string, attempt int) error
}

func newStubDialer(fail func(to string, attempt int) error) *stubDialer {
	return &stubDialer{attempts: make(map[string]int), fail: fail}
}

func (d *stubDialer) Dial(ctx context.Context, host string, port int) (transport.Session, error) {
	return &stubSession{dialer: d}, nil
}

func (d *stubDialer) count(to string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[to]
}

type stubSession struct {
	dialer *stubDialer
}

func (s *stubSession) Authenticate(username, password string) error { return nil }

func (s *stubSession) Submit(from, to string, msg []byte) error {
	s.dialer.mu.Lock()
	s.dialer.attempts[to]++
	n := s.dialer.attempts[to]
	s.dialer.mu.Unlock()

	if s.dialer.fail != nil {
		return s.dialer.fail(to, n)
	}
	return nil
}

func (s *stubSession) Close() error { return nil }

// failDialer refuses every connection, for connectivity test failures.
type failDialer struct{ err error }

func (d *failDialer) Dial(ctx context.Context, host string, port int) (transport.Session, error) {
	return nil, d.err
}

// gateDialer signals when a dial starts and holds it until released.
type gateDialer struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *gateDialer) Dial(ctx context.Context, host string, port int) (transport.Session, error) {
	d.once.Do(func() { close(d.entered) })
	<-d.release
	return nopSession{}, nil
}

type nopSession struct{}

func (nopSession) Authenticate(username, password string) error { return nil }
func (nopSession) Submit(from, to string, msg []byte) error     { return nil }
func (nopSession) Close() error                                 { return nil }

func testConfig() Config {
	return Config{
		Host:            "smtp.example.com",
		Port:            587,
		Username:        "sender@example.com",
		Password:        "secret",
		Subject:         "Hello {{Name}}",
		BodyTemplate:    "Hi {{Name}}",
		RecipientColumn: "email",
		Mapping:         model.PlaceholderMapping{"Name": "name"},
		Workers:         3,
		Retries:         3,
		BackoffBase:     time.Millisecond,
		ConnectTimeout:  time.Second,
	}
}

func recordsWith(addresses ...string) *model.RecordSet {
	s := model.NewRecordSet()
	s.Reset([]string{"email", "name"})
	for i, addr := range addresses {
		s.Append(map[string]string{"email": addr, "name": fmt.Sprintf("User%d", i)})
	}
	return s
}

func verifiedEngine(t *testing.T, records *model.RecordSet, dialer transport.Dialer, cfg Config) *Engine {
	t.Helper()
	e := New(records, dialer)
	if err := e.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if err := e.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	return e
}

func TestProcessInvalidAddressSkipsDelivery(t *testing.T) {
	d := newStubDialer(nil)
	rec := model.Record{ID: 0, Fields: map[string]string{"email": "not-an-address"}}

	status := Process(context.Background(), d, testConfig(), rec)

	if status != model.StatusInvalid {
		t.Errorf("expected invalid, got %s", status)
	}
	if d.count("not-an-address") != 0 {
		t.Error("delivery attempted for invalid address")
	}
}

func TestProcessExhaustsRetryBudget(t *testing.T) {
	d := newStubDialer(func(to string, attempt int) error {
		return &appErrors.TransportError{Op: "rcpt", Err: errors.New("451 busy")}
	})
	cfg := testConfig()
	cfg.Retries = 4

	rec := model.Record{ID: 0, Fields: map[string]string{"email": "a@example.com"}}
	status := Process(context.Background(), d, cfg, rec)

	if status != model.StatusFailed {
		t.Errorf("expected failed, got %s", status)
	}
	if got := d.count("a@example.com"); got != 4 {
		t.Errorf("expected exactly 4 attempts, got %d", got)
	}
}

func TestProcessZeroRetriesMeansOneAttempt(t *testing.T) {
	d := newStubDialer(func(to string, attempt int) error {
		return &appErrors.TransportError{Op: "rcpt", Err: errors.New("451 busy")}
	})
	cfg := testConfig()
	cfg.Retries = 0

	rec := model.Record{ID: 0, Fields: map[string]string{"email": "a@example.com"}}
	Process(context.Background(), d, cfg, rec)

	if got := d.count("a@example.com"); got != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", got)
	}
}

func TestProcessSucceedsMidBudget(t *testing.T) {
	d := newStubDialer(func(to string, attempt int) error {
		if attempt < 3 {
			return &appErrors.TransportError{Op: "data", Err: errors.New("timeout")}
		}
		return nil
	})
	cfg := testConfig()
	cfg.Retries = 5

	rec := model.Record{ID: 0, Fields: map[string]string{"email": "a@example.com"}}
	status := Process(context.Background(), d, cfg, rec)

	if status != model.StatusSent {
		t.Errorf("expected sent, got %s", status)
	}
	if got := d.count("a@example.com"); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestProcessAuthFailureStopsImmediately(t *testing.T) {
	d := newStubDialer(func(to string, attempt int) error {
		return &appErrors.AuthenticationError{Err: errors.New("535 bad credentials")}
	})
	cfg := testConfig()
	cfg.Retries = 5

	rec := model.Record{ID: 0, Fields: map[string]string{"email": "a@example.com"}}
	status := Process(context.Background(), d, cfg, rec)

	if status != model.StatusAuthError {
		t.Errorf("expected auth_error, got %s", status)
	}
	if got := d.count("a@example.com"); got != 1 {
		t.Errorf("auth failure retried: %d attempts", got)
	}
}

func TestStartPreconditions(t *testing.T) {
	d := newStubDialer(nil)
	cfg := testConfig()

	t.Run("no records", func(t *testing.T) {
		e := verifiedEngine(t, recordsWith(), d, cfg)
		if _, err := e.Start(context.Background()); !errors.Is(err, ErrNoRecords) {
			t.Errorf("expected ErrNoRecords, got %v", err)
		}
	})

	t.Run("no template", func(t *testing.T) {
		c := cfg
		c.BodyTemplate = ""
		e := verifiedEngine(t, recordsWith("a@example.com"), d, c)
		if _, err := e.Start(context.Background()); !errors.Is(err, ErrNoTemplate) {
			t.Errorf("expected ErrNoTemplate, got %v", err)
		}
	})

	t.Run("no recipient column", func(t *testing.T) {
		c := cfg
		c.RecipientColumn = ""
		e := verifiedEngine(t, recordsWith("a@example.com"), d, c)
		if _, err := e.Start(context.Background()); !errors.Is(err, ErrNoRecipientColumn) {
			t.Errorf("expected ErrNoRecipientColumn, got %v", err)
		}
	})

	t.Run("not verified", func(t *testing.T) {
		e := New(recordsWith("a@example.com"), d)
		if err := e.SetConfig(cfg); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Start(context.Background()); !errors.Is(err, ErrNotVerified) {
			t.Errorf("expected ErrNotVerified, got %v", err)
		}
	})

	t.Run("failed precondition leaves records untouched", func(t *testing.T) {
		records := recordsWith("a@example.com")
		e := New(records, d)
		if err := e.SetConfig(cfg); err != nil {
			t.Fatal(err)
		}
		e.Start(context.Background())
		if c := records.Snapshot(); c.Pending != 1 || c.Queued != 0 {
			t.Errorf("precondition failure mutated records: %+v", c)
		}
	})
}

func TestSetConfigInvalidatesVerification(t *testing.T) {
	e := verifiedEngine(t, recordsWith("a@example.com"), newStubDialer(nil), testConfig())
	if !e.Verified() {
		t.Fatal("expected verified after passing test")
	}

	if err := e.SetConfig(testConfig()); err != nil {
		t.Fatal(err)
	}
	if e.Verified() {
		t.Error("verification survived a config change")
	}
}

func TestVerificationDiscardedWhenConfigChangesMidCheck(t *testing.T) {
	d := &gateDialer{entered: make(chan struct{}), release: make(chan struct{})}
	e := New(recordsWith("a@example.com"), d)
	if err := e.SetConfig(testConfig()); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- e.TestConnection(context.Background()) }()
	<-d.entered

	cfg := testConfig()
	cfg.Password = "rotated"
	if err := e.SetConfig(cfg); err != nil {
		t.Fatal(err)
	}
	close(d.release)

	if err := <-errc; err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if e.Verified() {
		t.Error("check against the old config authorized the new, untested credentials")
	}
}

func TestBackoffDelaysAreMonotonic(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	d := newStubDialer(func(to string, attempt int) error {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return &appErrors.TransportError{Op: "data", Err: errors.New("timeout")}
	})

	cfg := testConfig()
	cfg.Retries = 4
	cfg.BackoffBase = 40 * time.Millisecond

	rec := model.Record{ID: 0, Fields: map[string]string{"email": "a@example.com"}}
	if status := Process(context.Background(), d, cfg, rec); status != model.StatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}

	if len(stamps) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(stamps))
	}
	var prev time.Duration
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		if gap < prev {
			t.Errorf("backoff regressed: gap %v after %v", gap, prev)
		}
		prev = gap
	}
	if first := stamps[1].Sub(stamps[0]); first < cfg.BackoffBase {
		t.Errorf("first delay %v shorter than base %v", first, cfg.BackoffBase)
	}
}

func TestTestConnectionIncompleteConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Password = ""
	e := New(recordsWith("a@example.com"), newStubDialer(nil))
	if err := e.SetConfig(cfg); err != nil {
		t.Fatal(err)
	}

	if err := e.TestConnection(context.Background()); !errors.Is(err, ErrIncompleteTransport) {
		t.Errorf("expected ErrIncompleteTransport, got %v", err)
	}
	if e.Verified() {
		t.Error("failed test left engine verified")
	}
}

func TestTestConnectionFailureClearsVerified(t *testing.T) {
	e := verifiedEngine(t, recordsWith("a@example.com"), newStubDialer(nil), testConfig())

	e.dialer = &failDialer{err: &appErrors.TransportError{Op: "connect", Err: errors.New("refused")}}
	if err := e.TestConnection(context.Background()); err == nil {
		t.Fatal("expected error from unreachable relay")
	}
	if e.Verified() {
		t.Error("failed test left engine verified")
	}
}

func TestRunDeliversAllRecords(t *testing.T) {
	for _, workers := range []int{1, 5, 10} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			addresses := make([]string, 40)
			for i := range addresses {
				addresses[i] = fmt.Sprintf("user%d@example.com", i)
			}
			records := recordsWith(addresses...)

			cfg := testConfig()
			cfg.Workers = workers
			e := verifiedEngine(t, records, newStubDialer(nil), cfg)

			runID, err := e.Start(context.Background())
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if runID == "" {
				t.Error("empty run id")
			}
			e.Wait()

			c := e.Snapshot()
			if c.Sent != len(addresses) {
				t.Errorf("expected %d sent, got %+v", len(addresses), c)
			}
			if e.Active() {
				t.Error("engine still active after Wait")
			}
		})
	}
}

func TestRunMixedOutcomes(t *testing.T) {
	records := recordsWith("ok@example.com", "bad-address", "down@example.com", "locked@example.com")
	d := newStubDialer(func(to string, attempt int) error {
		switch to {
		case "down@example.com":
			return &appErrors.TransportError{Op: "connect", Err: errors.New("refused")}
		case "locked@example.com":
			return &appErrors.AuthenticationError{Err: errors.New("535")}
		}
		return nil
	})
	cfg := testConfig()
	cfg.Retries = 2

	e := verifiedEngine(t, records, d, cfg)
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Wait()

	c := e.Snapshot()
	if c.Sent != 1 || c.Invalid != 1 || c.Failed != 1 || c.AuthError != 1 {
		t.Errorf("unexpected outcome mix: %+v", c)
	}
	if got := d.count("down@example.com"); got != 2 {
		t.Errorf("expected 2 attempts for transient failure, got %d", got)
	}
	if got := d.count("locked@example.com"); got != 1 {
		t.Errorf("auth failure retried: %d attempts", got)
	}
}

func TestRerunSkipsSentRecords(t *testing.T) {
	records := recordsWith("ok@example.com", "flaky@example.com")

	firstRun := true
	d := newStubDialer(nil)
	d.fail = func(to string, attempt int) error {
		if to == "flaky@example.com" && firstRun {
			return &appErrors.TransportError{Op: "data", Err: errors.New("timeout")}
		}
		return nil
	}
	cfg := testConfig()
	cfg.Retries = 1

	e := verifiedEngine(t, records, d, cfg)
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if c := e.Snapshot(); c.Sent != 1 || c.Failed != 1 {
		t.Fatalf("unexpected first run outcome: %+v", c)
	}
	okAttempts := d.count("ok@example.com")

	firstRun = false
	if err := e.TestConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if c := e.Snapshot(); c.Sent != 2 {
		t.Errorf("failed record not recovered on re-run: %+v", c)
	}
	if d.count("ok@example.com") != okAttempts {
		t.Error("already-sent record was delivered again")
	}
}

func TestRerunWithNothingLeft(t *testing.T) {
	e := verifiedEngine(t, recordsWith("ok@example.com"), newStubDialer(nil), testConfig())
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if err := e.TestConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Start(context.Background()); !errors.Is(err, ErrNothingToSend) {
		t.Errorf("expected ErrNothingToSend, got %v", err)
	}
}

func TestStartWhileRunningRejected(t *testing.T) {
	release := make(chan struct{})
	d := newStubDialer(nil)
	d.fail = func(to string, attempt int) error {
		<-release
		return nil
	}

	e := verifiedEngine(t, recordsWith("a@example.com", "b@example.com"), d, testConfig())
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Start(context.Background()); !errors.Is(err, ErrRunActive) {
		t.Errorf("expected ErrRunActive, got %v", err)
	}
	if err := e.SetConfig(testConfig()); !errors.Is(err, ErrRunActive) {
		t.Errorf("expected ErrRunActive from SetConfig, got %v", err)
	}

	close(release)
	e.Wait()
}

func TestStatusHookObservesEveryWrite(t *testing.T) {
	var mu sync.Mutex
	writes := map[int][]model.Status{}

	e := New(recordsWith("a@example.com", "b@example.com"), newStubDialer(nil))
	e.OnStatus(func(id int, status model.Status) {
		mu.Lock()
		writes[id] = append(writes[id], status)
		mu.Unlock()
	})
	if err := e.SetConfig(testConfig()); err != nil {
		t.Fatal(err)
	}
	if err := e.TestConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	for id := 0; id < 2; id++ {
		seq := writes[id]
		if len(seq) != 2 || seq[0] != model.StatusQueued || seq[1] != model.StatusSent {
			t.Errorf("record %d: unexpected write sequence %v", id, seq)
		}
	}
}

func TestPanicInDeliveryMarksRecordFailed(t *testing.T) {
	d := newStubDialer(func(to string, attempt int) error {
		if to == "boom@example.com" {
			panic("exploded mid-delivery")
		}
		return nil
	})

	e := verifiedEngine(t, recordsWith("boom@example.com", "ok@example.com"), d, testConfig())
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	c := e.Snapshot()
	if c.Failed != 1 || c.Sent != 1 {
		t.Errorf("panic not isolated to one record: %+v", c)
	}
}

func TestCancelledRunLeavesNothingQueued(t *testing.T) {
	addresses := make([]string, 20)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("user%d@example.com", i)
	}
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var once sync.Once
	d := newStubDialer(nil)
	d.fail = func(to string, attempt int) error {
		once.Do(func() { close(started) })
		return nil
	}

	cfg := testConfig()
	cfg.Workers = 1
	e := verifiedEngine(t, recordsWith(addresses...), d, cfg)
	if _, err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}

	<-started
	cancel()
	e.Wait()

	if c := e.Snapshot(); c.Queued != 0 || c.Pending != 0 {
		t.Errorf("cancelled run left non-terminal records: %+v", c)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Workers: 50, Retries: -1}.withDefaults()
	if cfg.Workers != MaxWorkers {
		t.Errorf("expected worker clamp to %d, got %d", MaxWorkers, cfg.Workers)
	}
	if cfg.Retries != DefaultRetries {
		t.Errorf("expected default retries, got %d", cfg.Retries)
	}

	cfg = Config{Retries: 0}.withDefaults()
	if cfg.Retries != 0 {
		t.Errorf("explicit zero retries was overwritten to %d", cfg.Retries)
	}
	if cfg.Workers != DefaultWorkers {
		t.Errorf("expected default workers, got %d", cfg.Workers)
	}
	if cfg.BackoffBase != DefaultBackoffBase {
		t.Errorf("expected default backoff, got %v", cfg.BackoffBase)
	}
}
