package searches

import (
	"context"
	"encoding/json"
	"errors"
	"seqjoin/internal/apperrors"
	"seqjoin/internal/hits"
	"seqjoin/internal/search"
	"seqjoin/internal/searchtest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func validRequest() search.Request {
	return search.Request{
		Sequence: "MKTAYIAKQR",
		Program:  "ssearch",
		Database: "pdb",
		SeqType:  "protein",
	}
}

func newTestManager(t *testing.T, fake *searchtest.Fake, timeout time.Duration) *Manager {
	t.Helper()
	ctrl, err := search.NewController(fake, search.Config{
		PollInterval: time.Millisecond,
		Timeout:      timeout,
		Kinds:        []hits.Kind{hits.KindTabular},
	}, nil)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	m := NewManager(ctrl, Config{Retention: time.Minute, MaintenanceInterval: time.Hour})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Close(ctx); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return m
}

func waitForState(t *testing.T, m *Manager, id string, want State) *Status {
	t.Helper()
	var last *Status
	searchtest.MustEventually(t, func() bool {
		s, err := m.Get(id)
		if err != nil {
			return false
		}
		last = s
		return s.State == want
	})
	return last
}

func TestManager_StartAndSucceed(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{
		Statuses: []search.Status{search.StatusRunning, search.StatusDone},
		Payloads: map[hits.Kind][]byte{hits.KindTabular: []byte("1ABC 0.001\n2XYZ 0.05\n")},
	}
	m := newTestManager(t, fake, time.Second)

	started, err := m.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if started.ID == "" || started.State != StateRunning {
		t.Errorf("unexpected start status %+v", started)
	}

	s := waitForState(t, m, started.ID, StateSucceeded)
	if s.Result == nil || s.Result.Filter.Len() != 2 {
		t.Fatalf("expected result with 2 identifiers, got %+v", s.Result)
	}
	if s.FinishedAt == nil || s.Outcome != "success" {
		t.Errorf("unexpected finished status %+v", s)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"ids":["1abc","2xyz"]`) {
		t.Errorf("status JSON missing filter ids: %s", data)
	}
}

func TestManager_StartValidates(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{}
	m := newTestManager(t, fake, time.Second)

	req := validRequest()
	req.SeqType = ""
	_, err := m.Start(context.Background(), req)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if fake.Submits.Load() != 0 {
		t.Error("invalid request reached the transport")
	}
}

func TestManager_RemoteFailure(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{Statuses: []search.Status{search.StatusFailed}}
	m := newTestManager(t, fake, time.Second)

	started, err := m.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}

	s := waitForState(t, m, started.ID, StateFailed)
	if s.RemoteStatus != "FAILED" || s.Error != "Unexpected FASTA job status: FAILED" || s.Result != nil {
		t.Errorf("unexpected failed status %+v", s)
	}
}

func TestManager_Cancel(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{} // RUNNING forever
	m := newTestManager(t, fake, time.Minute)

	started, err := m.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	searchtest.MustReach(t, &fake.Polls, 1)

	if err := m.Cancel(started.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	s := waitForState(t, m, started.ID, StateCancelled)
	if s.Error != "FASTA job was interrupted" {
		t.Errorf("Error = %q", s.Error)
	}
	if fake.Fetches.Load() != 0 {
		t.Error("fetch issued after cancel")
	}

	// cancelling again is a no-op
	if err := m.Cancel(started.ID); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}
}

func TestManager_TimedOut(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{}
	m := newTestManager(t, fake, 20*time.Millisecond)

	started, err := m.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	s := waitForState(t, m, started.ID, StateTimedOut)
	if s.Outcome != "timed_out" {
		t.Errorf("Outcome = %q", s.Outcome)
	}
}

func TestManager_StartDetachedFromRequestContext(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{
		Statuses: []search.Status{search.StatusRunning, search.StatusRunning, search.StatusDone},
		Payloads: map[hits.Kind][]byte{hits.KindTabular: []byte("1ABC 0.001\n")},
	}
	m := newTestManager(t, fake, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	started, err := m.Start(ctx, validRequest())
	cancel()
	if err != nil {
		t.Fatal(err)
	}

	waitForState(t, m, started.ID, StateSucceeded)
}

func TestManager_NotFound(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &searchtest.Fake{}, time.Second)

	if _, err := m.Get("missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Get() error = %v, want not found", err)
	}
	if err := m.Cancel("missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Cancel() error = %v, want not found", err)
	}
}

func TestManager_ListNewestFirst(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{
		Statuses: []search.Status{search.StatusDone},
		Payloads: map[hits.Kind][]byte{hits.KindTabular: []byte("1ABC 0.001\n")},
	}
	m := newTestManager(t, fake, time.Second)

	first, err := m.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := m.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}

	list := m.List()
	if len(list.Searches) != 2 {
		t.Fatalf("expected 2 searches, got %d", len(list.Searches))
	}
	if list.Searches[0].ID != second.ID || list.Searches[1].ID != first.ID {
		t.Errorf("unexpected order: %s, %s", list.Searches[0].ID, list.Searches[1].ID)
	}
}

func TestManager_PurgeExpired(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{
		Statuses: []search.Status{search.StatusDone},
		Payloads: map[hits.Kind][]byte{hits.KindTabular: []byte("1ABC 0.001\n")},
	}
	m := newTestManager(t, fake, time.Second)

	started, err := m.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, m, started.ID, StateSucceeded)

	m.purgeExpired(time.Now())
	if _, err := m.Get(started.ID); err != nil {
		t.Error("search purged before retention elapsed")
	}

	m.purgeExpired(time.Now().Add(2 * time.Minute))
	if _, err := m.Get(started.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Error("expected search purged after retention")
	}
}

func TestManager_CloseCancelsRunning(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{}
	ctrl, err := search.NewController(fake, search.Config{
		PollInterval: time.Millisecond,
		Timeout:      time.Minute,
		Kinds:        []hits.Kind{hits.KindTabular},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(ctrl, Config{})

	started, err := m.Start(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	searchtest.MustReach(t, &fake.Polls, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err := m.Get(started.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateCancelled {
		t.Errorf("State = %s, want cancelled", s.State)
	}

	if _, err := m.Start(context.Background(), validRequest()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

type notification struct {
	url    string
	status Status
}

func (r *recordingNotifier) SearchFinished(callbackURL string, s Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notification{callbackURL, s})
	return nil
}

func (r *recordingNotifier) snapshot() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.calls...)
}

func TestManager_Callback(t *testing.T) {
	t.Parallel()
	fake := &searchtest.Fake{
		Statuses: []search.Status{search.StatusDone},
		Payloads: map[hits.Kind][]byte{hits.KindTabular: []byte("1ABC 0.001\n")},
	}
	ctrl, err := search.NewController(fake, search.Config{
		PollInterval: time.Millisecond,
		Timeout:      5 * time.Second,
		Kinds:        []hits.Kind{hits.KindTabular},
	}, nil)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	notifier := &recordingNotifier{}
	m := NewManager(ctrl, Config{Notifier: notifier})
	defer m.Close(context.Background())

	started, err := m.Start(context.Background(), validRequest(), WithCallback("https://hooks.example.org/seqjoin"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if started.CallbackURL != "https://hooks.example.org/seqjoin" {
		t.Errorf("CallbackURL = %q", started.CallbackURL)
	}
	if _, err := m.Start(context.Background(), validRequest()); err != nil {
		t.Fatalf("Start() without callback error = %v", err)
	}

	searchtest.MustEventually(t, func() bool { return len(notifier.snapshot()) == 1 })

	// Give the second search time to finish; it must not notify.
	searchtest.MustEventually(t, func() bool {
		for _, s := range m.List().Searches {
			if s.State == StateRunning {
				return false
			}
		}
		return true
	})
	calls := notifier.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(calls))
	}
	if calls[0].url != "https://hooks.example.org/seqjoin" || calls[0].status.ID != started.ID {
		t.Errorf("notification = %+v", calls[0])
	}
	if calls[0].status.State != StateSucceeded || calls[0].status.Result == nil {
		t.Errorf("notified status = %+v", calls[0].status)
	}
}

func TestManager_CallbackValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		url      string
		notifier Notifier
	}{
		{"relative url", "/hooks", &recordingNotifier{}},
		{"bad scheme", "ftp://hooks.example.org", &recordingNotifier{}},
		{"callbacks disabled", "https://hooks.example.org", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := &searchtest.Fake{}
			ctrl, err := search.NewController(fake, search.Config{
				PollInterval: time.Millisecond,
				Timeout:      time.Second,
				Kinds:        []hits.Kind{hits.KindTabular},
			}, nil)
			if err != nil {
				t.Fatalf("NewController() error = %v", err)
			}
			m := NewManager(ctrl, Config{Notifier: tt.notifier})
			defer m.Close(context.Background())

			_, err = m.Start(context.Background(), validRequest(), WithCallback(tt.url))
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("Start() error = %v, want validation error", err)
			}
			if fake.Submits.Load() != 0 {
				t.Error("rejected search reached the transport")
			}
		})
	}
}

type instantRunner struct{}

func (instantRunner) Run(context.Context, search.Request) search.Outcome {
	return search.Outcome{
		Kind:     search.OutcomeSuccess,
		Status:   search.StatusDone,
		Payloads: []search.Payload{{Kind: hits.KindTabular, Hits: []hits.Hit{{ID: "1abc", Score: 0.001, Rank: 1}}}},
	}
}

// Start returns the running snapshot even when the run finishes before
// Start does. Run with -race.
func TestManager_StartWithInstantRunner(t *testing.T) {
	t.Parallel()
	m := NewManager(instantRunner{}, Config{Retention: time.Minute, MaintenanceInterval: time.Hour})
	defer m.Close(context.Background())

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Start(context.Background(), validRequest())
			if err != nil {
				errs <- err
				return
			}
			if s.State != StateRunning || s.FinishedAt != nil || s.Result != nil {
				errs <- errors.New("Start returned a finished snapshot: " + string(s.State))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	searchtest.MustEventually(t, func() bool {
		for _, s := range m.List().Searches {
			if s.State != StateSucceeded {
				return false
			}
		}
		return true
	})
	if got := len(m.List().Searches); got != 200 {
		t.Errorf("expected 200 searches, got %d", got)
	}
}
