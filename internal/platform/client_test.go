package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

type transportCall struct {
	method   string
	endpoint string
	auth     string
}

// scriptedTransport replays a fixed sequence of outcomes and records every
// call it sees. The last step repeats if called again.
type scriptedTransport struct {
	mu    sync.Mutex
	steps []scriptedStep
	calls []transportCall
}

type scriptedStep struct {
	resp *Response
	err  error
}

func (s *scriptedTransport) RoundTrip(ctx context.Context, method, endpoint string, header http.Header, body []byte) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, transportCall{method: method, endpoint: endpoint, auth: header.Get("Authorization")})
	idx := len(s.calls) - 1
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	step := s.steps[idx]
	return step.resp, step.err
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	refreshes  int
	refreshErr error
}

func (f *fakeTokens) AccessToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokens) ForceRefresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.token = "refreshed-token"
	return nil
}

func okResponse() *Response {
	return &Response{
		Status: 200,
		Header: http.Header{},
		Body:   []byte(`{"ErrorCode":1,"ErrorStatus":"Success","Response":{"ok":true}}`),
	}
}

func codeResponse(code ErrorCode, throttleSecs int) *Response {
	return &Response{
		Status: 200,
		Header: http.Header{},
		Body: []byte(fmt.Sprintf(`{"ErrorCode":%d,"ErrorStatus":"Error","Message":"nope","ThrottleSeconds":%d}`,
			code, throttleSecs)),
	}
}

func newTestClient(tr Transport, tokens TokenSource, rec *sleepRecorder, onMaint func(bool)) *Client {
	c := NewClient(Config{
		Transport:           tr,
		Tokens:              tokens,
		OnMaintenanceChange: onMaint,
	})
	c.sleep = rec.sleep
	c.seq.sleep = rec.sleep
	return c
}

func TestClient_HappyPath(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{{resp: okResponse()}}}
	tokens := &fakeTokens{token: "valid-token"}
	c := newTestClient(tr, tokens, &sleepRecorder{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Close()

	payload, err := c.Do(ctx, Request{
		Endpoint:     "/Profile/",
		Method:       http.MethodGet,
		RequiresAuth: true,
		AllowRetry:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"ok":true}` {
		t.Errorf("unexpected payload: %s", payload)
	}
	if tr.callCount() != 1 {
		t.Errorf("expected 1 dispatch, got %d", tr.callCount())
	}
	if tokens.refreshes != 0 {
		t.Errorf("refresh path must not be touched, got %d refreshes", tokens.refreshes)
	}
	if tr.calls[0].auth != "Bearer valid-token" {
		t.Errorf("missing bearer header, got %q", tr.calls[0].auth)
	}
}

func TestClient_ThrottleThenSucceed(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{
		{resp: codeResponse(CodePerSecondThrottle, 2)},
		{resp: okResponse()},
	}}
	rec := &sleepRecorder{}
	c := newTestClient(tr, &fakeTokens{token: "tok"}, rec, nil)

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Profile/", Method: http.MethodGet, AllowRetry: true,
	}, defaultFamily)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", tr.callCount())
	}

	var slept time.Duration
	for _, d := range rec.recorded() {
		if d > slept {
			slept = d
		}
	}
	if slept < 2*time.Second {
		t.Errorf("expected a sleep of at least 2s, longest was %v", slept)
	}
	// Throttle bumped severity to 1, the success halved it back to 0.
	if got := c.ThrottleSeverity(); got != 0 {
		t.Errorf("expected severity 0 after success, got %d", got)
	}
}

func TestClient_ThrottleNoRetry(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{{resp: codeResponse(CodePerMinuteThrottle, 5)}}}
	c := newTestClient(tr, &fakeTokens{token: "tok"}, &sleepRecorder{}, nil)

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Profile/", Method: http.MethodGet, AllowRetry: false,
	}, defaultFamily)

	var failure *Failure
	if !errors.As(err, &failure) || failure.Kind != KindThrottled {
		t.Fatalf("expected throttled failure, got %v", err)
	}
	if tr.callCount() != 1 {
		t.Errorf("expected 1 attempt, got %d", tr.callCount())
	}
}

func TestClient_ExpiredTokenThenSucceed(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{
		{resp: codeResponse(CodeAccessTokenExpired, 0)},
		{resp: okResponse()},
	}}
	tokens := &fakeTokens{token: "stale-token"}
	c := newTestClient(tr, tokens, &sleepRecorder{}, nil)

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Profile/", Method: http.MethodGet, RequiresAuth: true, AllowRetry: true,
	}, defaultFamily)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", tr.callCount())
	}
	if tokens.refreshes != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", tokens.refreshes)
	}
	if tr.calls[1].auth != "Bearer refreshed-token" {
		t.Errorf("second attempt must carry the refreshed token, got %q", tr.calls[1].auth)
	}
}

func TestClient_SecondAuthFailureSurfaces(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{
		{resp: codeResponse(CodeAccessTokenExpired, 0)},
		{resp: codeResponse(CodeAccessTokenExpired, 0)},
	}}
	tokens := &fakeTokens{token: "stale-token"}
	c := newTestClient(tr, tokens, &sleepRecorder{}, nil)

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Profile/", Method: http.MethodGet, RequiresAuth: true, AllowRetry: true,
	}, defaultFamily)

	var failure *Failure
	if !errors.As(err, &failure) || failure.Kind != KindAuthExpired {
		t.Fatalf("expected auth failure, got %v", err)
	}
	// One refresh only; the second rejection must not trigger another.
	if tokens.refreshes != 1 {
		t.Errorf("expected 1 refresh, got %d", tokens.refreshes)
	}
	if tr.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", tr.callCount())
	}
}

func TestClient_StateChanging500IsFatal(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{
		{resp: &Response{Status: 500, Header: http.Header{}, Body: []byte("Internal Server Error")}},
	}}
	c := newTestClient(tr, &fakeTokens{token: "tok"}, &sleepRecorder{}, nil)

	table := NewPacingTable(nil, 0)
	fam := table.Lookup("/Destiny/TransferItem/")
	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Destiny/TransferItem/", Method: http.MethodPost, RequiresAuth: true, AllowRetry: true,
	}, fam)

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected a Failure, got %v", err)
	}
	if failure.Kind != KindFatal {
		t.Errorf("expected fatal, got %v", failure.Kind)
	}
	if !failure.PotentialSuccess {
		t.Error("expected PotentialSuccess flag")
	}
	if tr.callCount() != 1 {
		t.Errorf("expected zero automatic retries, got %d attempts", tr.callCount())
	}
}

func TestClient_TransientRetriesCapped(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{
		{resp: &Response{Status: 503, Header: http.Header{}, Body: []byte("bad")}},
	}}
	rec := &sleepRecorder{}
	c := newTestClient(tr, &fakeTokens{token: "tok"}, rec, nil)

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Profile/", Method: http.MethodGet, AllowRetry: true,
	}, defaultFamily)

	var failure *Failure
	if !errors.As(err, &failure) || failure.Kind != KindTransient {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if tr.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", tr.callCount())
	}
}

func TestClient_TransportErrorsCapped(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{
		{err: errors.New("connection reset")},
	}}
	c := newTestClient(tr, &fakeTokens{token: "tok"}, &sleepRecorder{}, nil)

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Profile/", Method: http.MethodGet, AllowRetry: true,
	}, defaultFamily)
	if err == nil {
		t.Fatal("expected error")
	}
	if tr.callCount() != 2 {
		t.Errorf("expected 2 attempts for transport errors, got %d", tr.callCount())
	}
}

func TestClient_MaintenanceEdgeTriggered(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{
		{resp: codeResponse(CodeSystemDisabled, 0)},
		{resp: codeResponse(CodeSystemDisabled, 0)},
		{resp: okResponse()},
	}}
	var (
		mu      sync.Mutex
		changes []bool
	)
	c := newTestClient(tr, &fakeTokens{token: "tok"}, &sleepRecorder{}, func(down bool) {
		mu.Lock()
		changes = append(changes, down)
		mu.Unlock()
	})

	req := Request{Endpoint: "/Profile/", Method: http.MethodGet, AllowRetry: true}

	// Two maintenance rejections: one callback.
	if _, err := c.execute(context.Background(), req, defaultFamily); err == nil {
		t.Fatal("expected maintenance error")
	}
	if _, err := c.execute(context.Background(), req, defaultFamily); err == nil {
		t.Fatal("expected maintenance error")
	}
	if !c.UnderMaintenance() {
		t.Error("expected maintenance state")
	}

	// Recovery: one more callback, with down=false.
	if _, err := c.execute(context.Background(), req, defaultFamily); err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false}
	if len(changes) != len(want) {
		t.Fatalf("expected %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, changes)
		}
	}
}

func TestClient_BenignDuplicateIsSuccess(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{{resp: codeResponse(CodeSocketAlreadyContainsPlug, 0)}}}
	c := newTestClient(tr, &fakeTokens{token: "tok"}, &sleepRecorder{}, nil)

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/InsertSocketPlug/", Method: http.MethodPost, AllowRetry: true,
	}, defaultFamily)
	if err != nil {
		t.Fatalf("benign duplicate must not surface as error, got %v", err)
	}
	if tr.callCount() != 1 {
		t.Errorf("expected 1 attempt, got %d", tr.callCount())
	}
}

func TestClient_FatalNoRetry(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{{resp: codeResponse(ErrorCode(1601), 0)}}}
	c := newTestClient(tr, &fakeTokens{token: "tok"}, &sleepRecorder{}, nil)

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Profile/", Method: http.MethodGet, AllowRetry: true,
	}, defaultFamily)

	var failure *Failure
	if !errors.As(err, &failure) || failure.Kind != KindFatal {
		t.Fatalf("expected fatal failure, got %v", err)
	}
	if failure.Code != ErrorCode(1601) {
		t.Errorf("failure must carry the remote code, got %d", failure.Code)
	}
	if tr.callCount() != 1 {
		t.Errorf("expected 1 attempt, got %d", tr.callCount())
	}
}

func TestClient_BackoffWaitPrecedesEveryAttempt(t *testing.T) {
	tr := &scriptedTransport{steps: []scriptedStep{{resp: okResponse()}}}
	rec := &sleepRecorder{}
	c := newTestClient(tr, &fakeTokens{token: "tok"}, rec, nil)

	// Pre-existing throttle severity from some earlier request.
	c.backoff.OnThrottle()

	_, err := c.execute(context.Background(), Request{
		Endpoint: "/Profile/", Method: http.MethodGet, AllowRetry: true,
	}, defaultFamily)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sleeps := rec.recorded()
	if len(sleeps) == 0 || sleeps[0] != time.Second {
		t.Errorf("expected a 1s backoff wait before the first attempt, got %v", sleeps)
	}
}
