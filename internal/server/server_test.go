package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"fixline/internal/blob"
	"fixline/internal/config"
	"fixline/internal/db"
	"fixline/internal/engine"
	"fixline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	clock  *time.Time
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) advance(d time.Duration) { *s.clock = s.clock.Add(d) }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	e := engine.New(conn, config.Default(), blobs)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	e.Now = func() time.Time { return *clock }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		clock:  clock,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asHank() map[string]string  { return map[string]string{"X-Actor-Id": "hank"} }
func asCarla() map[string]string { return map[string]string{"X-Actor-Id": "carla"} }

func registerTestActors(t *testing.T, srv *testServer) {
	t.Helper()
	client := srv.Client()
	for _, body := range []map[string]any{
		{"id": "hank", "role": "homeowner", "name": "Hank"},
		{"id": "carla", "role": "contractor", "name": "Carla", "trade": "plumbing"},
	} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/actors", body, asHank())
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("register actor %v: %d %s", body["id"], res.StatusCode, string(data))
		}
	}
}

func errCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestFullJobRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	registerTestActors(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"trade":       "plumbing",
		"title":       "Leaky faucet",
		"description": "Kitchen faucet drips",
	}, asHank())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create job: %d %s", res.StatusCode, string(data))
	}
	var job JobResponse
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.Status != "pending" {
		t.Fatalf("expected pending, got %s", job.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/quotes", map[string]any{
		"amount":           15000,
		"duration_minutes": 90,
	}, asCarla())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit quote: %d %s", res.StatusCode, string(data))
	}
	var quote QuoteResponse
	_ = json.Unmarshal(data, &quote)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/quotes/"+quote.ID+"/accept", nil, asHank())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept quote: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/slots", map[string]any{
		"start_time": "2024-03-02T10:00:00Z",
		"end_time":   "2024-03-02T12:00:00Z",
	}, asCarla())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create slot: %d %s", res.StatusCode, string(data))
	}
	var slot SlotResponse
	_ = json.Unmarshal(data, &slot)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/slots/"+slot.ID+"/book", map[string]any{
		"job_id": job.ID,
	}, asHank())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("book slot: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &job)
	if job.Status != "scheduled" {
		t.Fatalf("expected scheduled, got %s", job.Status)
	}

	location := map[string]any{"location": map[string]any{"lat": 48.85, "lng": 2.35, "accuracy": 10}}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/checkin", location, asCarla())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("check in: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/jobs/"+job.ID+"/sheet", map[string]any{
		"notes":              "Replaced washer",
		"time_spent_minutes": 75,
		"additional_costs":   2500,
	}, asCarla())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("record work: %d %s", res.StatusCode, string(data))
	}

	srv.advance(2 * time.Hour)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/checkout", location, asCarla())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("check out: %d %s", res.StatusCode, string(data))
	}

	stroke := base64.StdEncoding.EncodeToString([]byte("stroke"))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/signatures", map[string]any{
		"role": "contractor", "stroke_base64": stroke,
	}, asCarla())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("contractor sign: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/signatures", map[string]any{
		"role": "homeowner", "stroke_base64": stroke,
	}, asHank())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("homeowner sign: %d %s", res.StatusCode, string(data))
	}
	var sheet SheetResponse
	_ = json.Unmarshal(data, &sheet)
	if sheet.Status != "completed" {
		t.Fatalf("expected completed sheet, got %s", sheet.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+job.ID, nil, asHank())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get job: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &job)
	if job.Status != "completed" {
		t.Fatalf("expected completed job, got %s", job.Status)
	}
	if job.ActualCost == nil || *job.ActualCost != 17500 {
		t.Fatalf("actual cost not settled: %+v", job.ActualCost)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/paid", nil, asHank())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark paid: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &job)
	if !job.Paid {
		t.Fatal("job not marked paid")
	}

	// the whole trail lands in the event log
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?job_id="+job.ID, nil, asHank())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events: %d %s", res.StatusCode, string(data))
	}
	var events paginatedEvents
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Items) == 0 {
		t.Fatal("no events recorded")
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	registerTestActors(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"trade":       "plumbing",
		"title":       "Clogged drain",
		"description": "Bathroom sink",
	}, asHank())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create job: %d %s", res.StatusCode, string(data))
	}
	var job JobResponse
	_ = json.Unmarshal(data, &job)

	// no edge pending -> completed
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/status", map[string]any{
		"status": "completed",
	}, asHank())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errCode(t, data); code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", code)
	}

	// unknown trade is a validation failure
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"trade":       "alchemy",
		"title":       "Turn lead to gold",
		"description": "One ingot",
	}, asHank())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	if code := errCode(t, data); code != "bad_request" {
		t.Fatalf("expected bad_request, got %s", code)
	}

	// missing job is 404
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/no-such-job", nil, asHank())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if code := errCode(t, data); code != "not_found" {
		t.Fatalf("expected not_found, got %s", code)
	}

	// contractor cannot accept quotes
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/quotes", map[string]any{
		"amount": 100, "duration_minutes": 10,
	}, asCarla())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit quote: %d %s", res.StatusCode, string(data))
	}
	var quote QuoteResponse
	_ = json.Unmarshal(data, &quote)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/quotes/"+quote.ID+"/accept", nil, asCarla())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if code := errCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden, got %s", code)
	}
}

func TestAuthFlows(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// no credentials
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	// health is open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}

	// dev login mints a working bearer token
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "hank", "role": "homeowner",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("no token: %v %s", err, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "hank" || who.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", who)
	}

	// garbage token is refused
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}
