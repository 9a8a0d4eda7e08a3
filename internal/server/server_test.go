package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"footyai/internal/app"
	"footyai/internal/quota"
	"footyai/pkg/ai"
	"footyai/pkg/domain"
	"footyai/pkg/store"
)

type fakePredictor struct {
	result domain.PredictionResult
	err    error
}

func (p *fakePredictor) Predict(ctx context.Context, teamA, teamB domain.TeamStats) (domain.PredictionResult, error) {
	return p.result, p.err
}

type fakeLimiter struct {
	allow bool
}

func (l *fakeLimiter) Allow(key string) bool { return l.allow }

type fakeObjectStore struct{}

func (fakeObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return nil
}

func (fakeObjectStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://minio.local/" + key, nil
}

func (fakeObjectStore) Delete(ctx context.Context, key string) error { return nil }

type testEnv struct {
	api       *httptest.Server
	users     *store.MemoryStore
	predictor *fakePredictor
	limiter   *fakeLimiter
}

func newTestEnv(t *testing.T, gemini http.HandlerFunc) *testEnv {
	t.Helper()
	env := &testEnv{
		users:     store.NewMemoryStore(),
		predictor: &fakePredictor{},
		limiter:   &fakeLimiter{allow: true},
	}
	if gemini == nil {
		gemini = streamChunks(t, "ok")
	}
	upstream := httptest.NewServer(gemini)
	t.Cleanup(upstream.Close)
	client, err := ai.NewClient("test-key")
	if err != nil {
		t.Fatalf("new ai client: %v", err)
	}
	client = client.WithBaseURL(upstream.URL)

	a := app.New(env.users, store.NewMemorySessionStore(), env.predictor, nil, nil, fakeObjectStore{}, func() *ai.ChatSession {
		return ai.NewChatSession(client, "gemini-2.5-flash")
	})
	srv := New(Config{App: a, Limiter: env.limiter})
	env.api = httptest.NewServer(srv.Router())
	t.Cleanup(env.api.Close)
	return env
}

func streamChunks(t *testing.T, deltas ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			raw, err := json.Marshal(map[string]any{
				"candidates": []map[string]any{
					{"content": map[string]any{"role": "model", "parts": []map[string]string{{"text": d}}}},
				},
			})
			if err != nil {
				t.Errorf("marshal chunk: %v", err)
			}
			fmt.Fprintf(w, "data: %s\r\n\r\n", raw)
		}
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.api.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) signup(t *testing.T, username, password string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"username": username, "password": password})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return out.Token
}

func decodeSSE(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read sse body: %v", err)
	}
	var events []map[string]any
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &event); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func TestSignUpConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "Alice", "secret123")

	resp := env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"username": "ALICE", "password": "other"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "Bob", "secret123")

	resp := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "bob", "password": "secret123"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	bad := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "bob", "password": "nope"})
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", bad.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(bad.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "Invalid username or password." {
		t.Fatalf("error copy = %q", body["error"])
	}
}

func TestMeAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signup(t, "Cara", "secret123")

	resp := env.do(t, http.MethodGet, "/auth/me", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	var out struct {
		User domain.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if out.User.Username != "Cara" {
		t.Fatalf("me user = %+v", out.User)
	}

	anon := env.do(t, http.MethodGet, "/auth/me", "", nil)
	anon.Body.Close()
	if anon.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous me status = %d, want 401", anon.StatusCode)
	}

	logout := env.do(t, http.MethodPost, "/auth/logout", token, nil)
	logout.Body.Close()
	if logout.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", logout.StatusCode)
	}
	gone := env.do(t, http.MethodGet, "/auth/me", token, nil)
	gone.Body.Close()
	if gone.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d, want 401", gone.StatusCode)
	}
}

func TestPredictEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signup(t, "Dino", "secret123")
	env.predictor.result = domain.PredictionResult{PredictedWinner: "Draw", PredictedScore: "1-1", Analysis: "Even sides."}

	resp := env.do(t, http.MethodPost, "/api/predict", token, map[string]any{
		"teamA": map[string]any{"name": "Milan", "wins": 3},
		"teamB": map[string]any{"name": "Inter", "wins": 3},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("predict status = %d", resp.StatusCode)
	}
	var result domain.PredictionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode prediction: %v", err)
	}
	if result.PredictedWinner != "Draw" {
		t.Fatalf("unexpected result %+v", result)
	}

	missing := env.do(t, http.MethodPost, "/api/predict", token, map[string]any{
		"teamA": map[string]any{"name": ""},
		"teamB": map[string]any{"name": "Inter"},
	})
	missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing name status = %d, want 400", missing.StatusCode)
	}

	env.predictor.err = errors.New("upstream down")
	failed := env.do(t, http.MethodPost, "/api/predict", token, map[string]any{
		"teamA": map[string]any{"name": "Milan"},
		"teamB": map[string]any{"name": "Inter"},
	})
	defer failed.Body.Close()
	if failed.StatusCode != http.StatusBadGateway {
		t.Fatalf("failed predict status = %d, want 502", failed.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(failed.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "Failed to get prediction from AI. Please check the stats and try again." {
		t.Fatalf("error copy = %q", body["error"])
	}
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t, streamChunks(t, "Hel", "lo", " there"))
	token := env.signup(t, "Erin", "secret123")

	resp := env.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "Who won in 1966?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	events := decodeSSE(t, resp)
	if len(events) != 4 {
		t.Fatalf("got %d events, want 3 deltas + done: %v", len(events), events)
	}
	for i, want := range []string{"Hel", "lo", " there"} {
		if events[i]["delta"] != want {
			t.Fatalf("event %d = %v, want delta %q", i, events[i], want)
		}
	}
	last := events[len(events)-1]
	if last["done"] != true {
		t.Fatalf("terminal event = %v", last)
	}
	if remaining, ok := last["remaining"].(float64); !ok || int(remaining) != quota.MessageLimit-1 {
		t.Fatalf("remaining = %v, want %d", last["remaining"], quota.MessageLimit-1)
	}
	if last["quota"] != "1/15" {
		t.Fatalf("quota = %v, want 1/15", last["quota"])
	}
}

func TestChatTranscriptAndReset(t *testing.T) {
	env := newTestEnv(t, streamChunks(t, "answer"))
	token := env.signup(t, "Febe", "secret123")

	resp := env.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "hi"})
	decodeSSE(t, resp)

	get := env.do(t, http.MethodGet, "/api/chat", token, nil)
	defer get.Body.Close()
	var out struct {
		Messages  []domain.ChatMessage `json:"messages"`
		Remaining int                  `json:"remaining"`
		Quota     string               `json:"quota"`
	}
	if err := json.NewDecoder(get.Body).Decode(&out); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(out.Messages) != 3 || out.Remaining != quota.MessageLimit-1 {
		t.Fatalf("transcript = %d messages remaining = %d", len(out.Messages), out.Remaining)
	}
	if out.Quota != "1/15" {
		t.Fatalf("quota = %q, want 1/15", out.Quota)
	}

	del := env.do(t, http.MethodDelete, "/api/chat", token, nil)
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status = %d, want 204", del.StatusCode)
	}

	after := env.do(t, http.MethodGet, "/api/chat", token, nil)
	defer after.Body.Close()
	if err := json.NewDecoder(after.Body).Decode(&out); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(out.Messages) != 1 {
		t.Fatalf("reset transcript = %d messages, want greeting only", len(out.Messages))
	}
	if out.Remaining != quota.MessageLimit-1 {
		t.Fatalf("reset must not restore quota, remaining = %d", out.Remaining)
	}
}

func TestTranscriptDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signup(t, "Kira", "secret123")

	if err := env.users.SaveTranscript(domain.Transcript{ID: "t-9", Username: "kira", Archived: true}); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	resp := env.do(t, http.MethodGet, "/api/transcripts/t-9", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode download response: %v", err)
	}
	if out["url"] != "https://minio.local/transcripts/kira/t-9.json" {
		t.Fatalf("unexpected url %q", out["url"])
	}

	missing := env.do(t, http.MethodGet, "/api/transcripts/nope", token, nil)
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing transcript status = %d, want 404", missing.StatusCode)
	}

	if err := env.users.SaveTranscript(domain.Transcript{ID: "t-10", Username: "kira"}); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	pending := env.do(t, http.MethodGet, "/api/transcripts/t-10", token, nil)
	pending.Body.Close()
	if pending.StatusCode != http.StatusConflict {
		t.Fatalf("unarchived transcript status = %d, want 409", pending.StatusCode)
	}
}

func TestChatQuotaExhausted(t *testing.T) {
	env := newTestEnv(t, streamChunks(t, "ok"))
	token := env.signup(t, "Gil", "secret123")
	for i := 0; i < quota.MessageLimit; i++ {
		resp := env.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "spend"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("spend %d status = %d", i, resp.StatusCode)
		}
		decodeSSE(t, resp)
	}

	resp := env.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "one more"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("exhausted chat status = %d, want 429", resp.StatusCode)
	}
}

func TestChatEmptyMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signup(t, "Hugo", "secret123")
	resp := env.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "  "})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty chat status = %d, want 400", resp.StatusCode)
	}
}

func TestChatInferenceFailure(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
	})
	token := env.signup(t, "Iris", "secret123")
	resp := env.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("inference failure status = %d, want 502", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.HasPrefix(body["error"], "Failed to get response from AI:") {
		t.Fatalf("error copy = %q", body["error"])
	}
}

func TestChatRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signup(t, "Jules", "secret123")
	env.limiter.allow = false

	resp := env.do(t, http.MethodPost, "/api/chat", token, map[string]string{"message": "hi"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("rate limited status = %d, want 429", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}
