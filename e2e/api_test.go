//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"seqjoin/internal/api"
	"seqjoin/internal/app"
	"seqjoin/internal/config"
	"seqjoin/internal/health"
	"seqjoin/internal/notify"
	"seqjoin/internal/searches"
	"seqjoin/internal/searchtest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

const (
	basePath = "/Tools/services/rest/fasta"

	tabPayload = "PDB:1ABC_A 1.2e-47\nPDB:1ABC_B 3.1e-47\nPDB:2XYZ_A 0.0021\n"
)

// remoteService imitates the EBI job dispatcher REST API. Each job reports
// RUNNING for pollsBeforeDone polls, then finalStatus.
type remoteService struct {
	pollsBeforeDone int64
	finalStatus     string
	payloads        map[string]string

	submits atomic.Int64
	polls   atomic.Int64
	fetches atomic.Int64

	mu   sync.Mutex
	jobs map[string]*atomic.Int64
	form []map[string]string
}

func newRemoteService() *remoteService {
	out, err := os.ReadFile("../internal/hits/testdata/ssearch_pdb.out")
	if err != nil {
		panic(err)
	}
	return &remoteService{
		pollsBeforeDone: 2,
		finalStatus:     "FINISHED",
		payloads:        map[string]string{"tab": tabPayload, "out": string(out)},
		jobs:            make(map[string]*atomic.Int64),
	}
}

func (s *remoteService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+basePath+"/run", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("email") == "" {
			http.Error(w, "email is required", http.StatusBadRequest)
			return
		}
		n := s.submits.Add(1)
		id := fmt.Sprintf("ssearch-R20261019-%06d-p1m", n)

		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		s.mu.Lock()
		s.jobs[id] = new(atomic.Int64)
		s.form = append(s.form, form)
		s.mu.Unlock()

		w.Write([]byte(id))
	})
	mux.HandleFunc("GET "+basePath+"/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.polls.Add(1)
		s.mu.Lock()
		polls, ok := s.jobs[r.PathValue("id")]
		s.mu.Unlock()
		if !ok {
			w.Write([]byte("NOT_FOUND"))
			return
		}
		if polls.Add(1) <= s.pollsBeforeDone {
			w.Write([]byte("RUNNING"))
			return
		}
		w.Write([]byte(s.finalStatus))
	})
	mux.HandleFunc("GET "+basePath+"/result/{id}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		payload, ok := s.payloads[r.PathValue("kind")]
		if !ok {
			http.Error(w, "unknown result type", http.StatusBadRequest)
			return
		}
		w.Write([]byte(payload))
	})
	mux.HandleFunc("GET "+basePath+"/parameters", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<parameters/>"))
	})
	return mux
}

type stack struct {
	URL      string
	remote   *remoteService
	searches *searches.Manager
}

// newStack wires the full service against a fake remote service.
func newStack(t testing.TB, mutate func(*config.Config)) *stack {
	t.Helper()
	remote := newRemoteService()
	remoteSrv := httptest.NewServer(remote.handler())
	t.Cleanup(remoteSrv.Close)

	cfg := config.Default()
	cfg.Fasta.Email = "curator@example.org"
	cfg.Fasta.BaseURL = remoteSrv.URL + basePath
	cfg.Fasta.PollInterval = 10 * time.Millisecond
	cfg.Fasta.Timeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid config: %v", err)
	}

	pipeline, err := app.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to build pipeline: %v", err)
	}
	t.Cleanup(func() { pipeline.Close() })

	notifier := app.NewNotifier(cfg, nil)
	t.Cleanup(func() {
		if notifier == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		notifier.Close(ctx)
	})

	manager := pipeline.NewManager(cfg, notifier)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Close(ctx)
	})

	router := api.NewRouter(api.RouterConfig{
		Runner:        pipeline.Runner,
		Searches:      manager,
		HealthChecker: health.NewChecker(pipeline.HealthChecks()...),
		Defaults:      app.Defaults(cfg),
		ScoreOrder:    cfg.ScoreOrder(),
		FailurePolicy: cfg.Service.FailurePolicy,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &stack{URL: server.URL, remote: remote, searches: manager}
}

func getFilter(t *testing.T, baseURL, query string) (int, api.FilterResponse) {
	t.Helper()
	resp, err := http.Get(baseURL + "/v1/filter?" + query)
	if err != nil {
		t.Fatalf("Failed to call filter: %v", err)
	}
	defer resp.Body.Close()

	var body api.FilterResponse
	json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestAPI_Readyz(t *testing.T) {
	s := newStack(t, nil)

	resp, err := http.Get(s.URL + "/readyz")
	if err != nil {
		t.Fatalf("Failed to call readyz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result health.Response
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Status != health.StatusHealthy {
		t.Errorf("Expected healthy, got %s", result.Status)
	}
}

func TestAPI_Filter(t *testing.T) {
	s := newStack(t, nil)

	status, body := getFilter(t, s.URL, "sequence=MKTAYIAKQRQISFVKSHFSRQ&expupperlim=0.01&scores=50")

	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if body.Outcome != "success" {
		t.Fatalf("Outcome = %s, error = %s", body.Outcome, body.Error)
	}
	if strings.Join(body.IDs, ",") != "1abc,2xyz" {
		t.Errorf("IDs = %v, want [1abc 2xyz]", body.IDs)
	}
	if body.Scores["1abc"] != 1.2e-47 {
		t.Errorf("Scores[1abc] = %v", body.Scores["1abc"])
	}
	if len(body.Hits) != 3 {
		t.Errorf("expected 3 primary hits, got %d", len(body.Hits))
	}

	if n := s.remote.polls.Load(); n != 3 {
		t.Errorf("expected 3 polls (2 RUNNING + FINISHED), got %d", n)
	}
	if n := s.remote.fetches.Load(); n != 2 {
		t.Errorf("expected 2 fetches (tab + out), got %d", n)
	}

	s.remote.mu.Lock()
	form := s.remote.form[0]
	s.remote.mu.Unlock()
	if form["expupperlim"] != "0.01" || form["scores"] != "50" || form["program"] != "ssearch" {
		t.Errorf("submitted form = %v", form)
	}
}

func TestAPI_Filter_RemoteFailure(t *testing.T) {
	s := newStack(t, nil)
	s.remote.finalStatus = "FAILURE"

	status, body := getFilter(t, s.URL, "sequence=MKTAYIAKQ")

	if status != http.StatusOK {
		t.Fatalf("Expected fail-closed status 200, got %d", status)
	}
	if body.Outcome != "remote_failure" || body.RemoteStatus != "FAILED" {
		t.Errorf("response = %+v", body)
	}
	if len(body.IDs) != 0 {
		t.Errorf("expected empty filter, got %v", body.IDs)
	}
	if n := s.remote.fetches.Load(); n != 0 {
		t.Errorf("failed job was fetched %d times", n)
	}
}

func TestAPI_Filter_TimeoutSurfaced(t *testing.T) {
	s := newStack(t, func(c *config.Config) {
		c.Fasta.Timeout = 100 * time.Millisecond
		c.Service.FailurePolicy = config.FailureError
	})
	s.remote.pollsBeforeDone = 1 << 30

	start := time.Now()
	status, _ := getFilter(t, s.URL, "sequence=MKTAYIAKQ")

	if status != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504, got %d", status)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestAPI_SearchLifecycle(t *testing.T) {
	s := newStack(t, nil)

	body := bytes.NewBufferString(`{"sequence": "MKTAYIAKQRQISFVKSHFSRQ", "expupperlim": 0.5}`)
	resp, err := http.Post(s.URL+"/v1/searches", "application/json", body)
	if err != nil {
		t.Fatalf("Failed to create search: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	var created searches.Status
	json.NewDecoder(resp.Body).Decode(&created)

	var final searches.Status
	searchtest.MustEventually(t, func() bool {
		resp, err := http.Get(s.URL + "/v1/searches/" + created.ID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		json.NewDecoder(resp.Body).Decode(&final)
		return final.State != searches.StateRunning
	})

	if final.State != searches.StateSucceeded {
		t.Fatalf("State = %s, error = %s", final.State, final.Error)
	}
	if final.Result == nil || final.Result.Filter.Len() != 2 {
		t.Errorf("Result = %+v", final.Result)
	}
}

func TestAPI_CancelSearch(t *testing.T) {
	s := newStack(t, nil)
	s.remote.pollsBeforeDone = 1 << 30

	resp, err := http.Post(s.URL+"/v1/searches", "application/json", bytes.NewBufferString(`{"sequence": "MKTAYIAKQ"}`))
	if err != nil {
		t.Fatalf("Failed to create search: %v", err)
	}
	var created searches.Status
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	searchtest.MustReach(t, &s.remote.polls, 2)

	req, _ := http.NewRequest(http.MethodDelete, s.URL+"/v1/searches/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to cancel search: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", resp.StatusCode)
	}

	searchtest.MustEventually(t, func() bool {
		st, err := s.searches.Get(created.ID)
		return err == nil && st.State == searches.StateCancelled
	})

	// No polling after cancellation settles.
	polls := s.remote.polls.Load()
	time.Sleep(50 * time.Millisecond)
	if s.remote.polls.Load() != polls {
		t.Error("remote was polled after cancellation")
	}
}

func TestAPI_ConcurrentFilters(t *testing.T) {
	s := newStack(t, nil)

	const numRequests = 10
	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := range numRequests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(fmt.Sprintf("%s/v1/filter?sequence=MKTAYIAKQ&scores=%d", s.URL, i+1))
			if err != nil {
				failures.Add(1)
				return
			}
			defer resp.Body.Close()
			var body api.FilterResponse
			if json.NewDecoder(resp.Body).Decode(&body) != nil || body.Outcome != "success" {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Errorf("%d of %d concurrent searches failed", n, numRequests)
	}
	if n := s.remote.submits.Load(); n != numRequests {
		t.Errorf("expected %d independent submissions, got %d", numRequests, n)
	}
}

func TestAPI_OutcomeCache(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newStack(t, func(c *config.Config) {
		c.Cache.RedisURL = "redis://" + mr.Addr()
	})

	for range 2 {
		if _, body := getFilter(t, s.URL, "sequence=MKTAYIAKQ"); body.Outcome != "success" {
			t.Fatalf("Outcome = %s, error = %s", body.Outcome, body.Error)
		}
	}

	if n := s.remote.submits.Load(); n != 1 {
		t.Errorf("expected the repeat search to be served from cache, got %d submissions", n)
	}
}

func TestAPI_SearchCallback(t *testing.T) {
	events := make(chan []byte, 1)
	var signature string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(notify.SignatureHeader)
		body, _ := io.ReadAll(r.Body)
		events <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	s := newStack(t, func(c *config.Config) {
		c.Notify.SigningKey = "hook-secret"
	})

	body := `{"sequence": "MKTAYIAKQRQISFVKSHFSRQ", "callbackUrl": "` + hook.URL + `"}`
	resp, err := http.Post(s.URL+"/v1/searches", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	var created searches.Status
	json.NewDecoder(resp.Body).Decode(&created)

	var payload []byte
	select {
	case payload = <-events:
	case <-time.After(10 * time.Second):
		t.Fatal("callback was not delivered")
	}

	if signature != notify.Signature(payload, "hook-secret") {
		t.Errorf("callback signature mismatch: %q", signature)
	}
	var event notify.CloudEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("Failed to decode callback: %v", err)
	}
	if event.Type != notify.TypeSearchFinished || event.Subject != created.ID {
		t.Errorf("unexpected event %+v", event)
	}
	if event.Data["state"] != string(searches.StateSucceeded) {
		t.Errorf("callback state = %v", event.Data["state"])
	}
}
