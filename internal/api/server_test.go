package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursecompass/internal/catalog"
	"github.com/coursecompass/internal/ledger"
	"github.com/coursecompass/internal/llm"
	"github.com/coursecompass/internal/recommend"
)

const testSecret = "test-secret"

// memStore is an in-memory ledger.Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (m *memStore) Append(_ context.Context, entry *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memStore) CountForCaller(_ context.Context, callerID, callerAddress string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		if callerID != "" && e.CallerID.Valid && e.CallerID.String == callerID {
			count++
		} else if callerID == "" && !e.CallerID.Valid && e.CallerAddress == callerAddress {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountForUser(_ context.Context, callerID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, successful := 0, 0
	for _, e := range m.entries {
		if e.CallerID.Valid && e.CallerID.String == callerID {
			total++
			if e.Success {
				successful++
			}
		}
	}
	return total, successful, nil
}

func (m *memStore) TokenTotals(_ context.Context, callerID string) (int64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	count := 0
	for _, e := range m.entries {
		if e.CallerID.Valid && e.CallerID.String == callerID {
			sum += int64(e.TokensUsed)
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return sum, int(sum / int64(count)), nil
}

func (m *memStore) Recent(_ context.Context, callerID string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].CallerID.Valid && m.entries[i].CallerID.String == callerID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// memCatalog is an in-memory catalog.Store for handler tests.
type memCatalog struct {
	mu      sync.Mutex
	nextID  int64
	courses map[int64]catalog.Course
}

func newMemCatalog(courses ...catalog.Course) *memCatalog {
	m := &memCatalog{courses: make(map[int64]catalog.Course)}
	for _, c := range courses {
		m.nextID++
		c.ID = m.nextID
		m.courses[c.ID] = c
	}
	return m
}

func (m *memCatalog) FindByApproximateTitle(_ context.Context, title string, limit int) ([]catalog.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Course
	for _, c := range m.courses {
		if strings.Contains(strings.ToLower(c.Title), strings.ToLower(title)) {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memCatalog) List(_ context.Context) ([]catalog.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []catalog.Course
	for _, c := range m.courses {
		out = append(out, c)
	}
	return out, nil
}

func (m *memCatalog) Get(_ context.Context, id int64) (*catalog.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %d not found", id)
	}
	return &c, nil
}

func (m *memCatalog) Create(_ context.Context, course *catalog.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	course.ID = m.nextID
	course.CreatedAt = time.Now()
	m.courses[course.ID] = *course
	return nil
}

func (m *memCatalog) Update(_ context.Context, course *catalog.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[course.ID]; !ok {
		return fmt.Errorf("course %d not found", course.ID)
	}
	m.courses[course.ID] = *course
	return nil
}

func (m *memCatalog) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[id]; !ok {
		return fmt.Errorf("course %d not found", id)
	}
	delete(m.courses, id)
	return nil
}

// stubInvoker returns a canned completion.
type stubInvoker struct {
	text string
	err  error
}

func (s *stubInvoker) Invoke(_ context.Context, _ llm.CompletionRequest) (*llm.InvokeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.InvokeResult{
		CompletionResult: &llm.CompletionResult{Text: s.text, TokensUsed: 120},
		Attempts:         1,
	}, nil
}

type serverOptions struct {
	invoker        recommend.Invoker
	store          ledger.Store
	catalogStore   catalog.Store
	windowRequests int
}

func newTestServer(t *testing.T, opts serverOptions) *Server {
	t.Helper()

	if opts.invoker == nil {
		opts.invoker = &stubInvoker{text: `[{"title":"Go Basics","reason":"Solid start."}]`}
	}
	if opts.store == nil {
		opts.store = &memStore{}
	}
	if opts.catalogStore == nil {
		opts.catalogStore = newMemCatalog()
	}
	if opts.windowRequests == 0 {
		opts.windowRequests = 100
	}

	guard := recommend.NewGuard(opts.store, opts.windowRequests, time.Minute, 250)
	t.Cleanup(guard.Stop)

	service := recommend.NewService(
		guard,
		opts.invoker,
		recommend.NewMatcher(opts.catalogStore),
		opts.store,
		recommend.ModelSettings{Model: "gpt-3.5-turbo", Temperature: 0.3, MaxTokens: 1500},
	)
	reporter := recommend.NewReporter(opts.store, 250)

	return NewServer(0, Deps{
		Recommender: service,
		Reporter:    reporter,
		Catalog:     opts.catalogStore,
		JWTSecret:   testSecret,
	})
}

func doJSON(s *Server, method, path, token string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   userID,
		"role": "user",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := doJSON(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRecommendSuccess(t *testing.T) {
	cat := newMemCatalog(catalog.Course{Title: "Go Basics", Description: "Intro to Go"})
	s := newTestServer(t, serverOptions{
		invoker: &stubInvoker{text: `[
			{"title": "Go Basics", "reason": "Solid start."},
			{"title": "Distributed Systems", "reason": "Next step."}
		]`},
		catalogStore: cat,
	})

	rec := doJSON(s, http.MethodPost, "/api/v1/recommend", "",
		`{"prompt": "I want to learn backend development", "maxSuggestions": 2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RecommendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TotalSuggestions)
	assert.Equal(t, 120, resp.TokensUsed)
	require.NotNil(t, resp.UsageInfo)
	assert.Equal(t, 250, resp.UsageInfo.Limit)

	require.Len(t, resp.Recommendations, 2)
	assert.True(t, resp.Recommendations[0].Matched)
	assert.False(t, resp.Recommendations[1].Matched)
}

func TestRecommendRejectsShortPrompt(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := doJSON(s, http.MethodPost, "/api/v1/recommend", "", `{"prompt": "Go"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(recommend.ReasonPromptTooShort), resp.Reason)
}

func TestRecommendRejectsInvalidCount(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := doJSON(s, http.MethodPost, "/api/v1/recommend", "",
		`{"prompt": "teach me systems programming", "maxSuggestions": 11}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(recommend.ReasonInvalidCount), resp.Reason)
}

func TestRecommendRejectsExplicitZeroCount(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := doJSON(s, http.MethodPost, "/api/v1/recommend", "",
		`{"prompt": "teach me systems programming", "maxSuggestions": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(recommend.ReasonInvalidCount), resp.Reason)
}

func TestRecommendRateLimited(t *testing.T) {
	s := newTestServer(t, serverOptions{windowRequests: 1})

	first := doJSON(s, http.MethodPost, "/api/v1/recommend", "",
		`{"prompt": "teach me systems programming"}`)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := doJSON(s, http.MethodPost, "/api/v1/recommend", "",
		`{"prompt": "teach me systems programming"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, string(recommend.ReasonRateLimited), resp.Reason)
}

func TestRecommendCapExceeded(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 250; i++ {
		store.entries = append(store.entries, ledger.Entry{
			// httptest requests resolve to the TEST-NET-1 address
			CallerAddress: "192.0.2.1",
			Success:       true,
		})
	}
	s := newTestServer(t, serverOptions{store: store})

	rec := doJSON(s, http.MethodPost, "/api/v1/recommend", "",
		`{"prompt": "teach me systems programming"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(recommend.ReasonUsageCapExceeded), resp.Reason)
	assert.Equal(t, 250, resp.TotalCalls)
	assert.Equal(t, 250, resp.Limit)
}

func TestRecommendParseFailureEchoesRawOutput(t *testing.T) {
	s := newTestServer(t, serverOptions{
		invoker: &stubInvoker{text: "I cannot help with that."},
	})

	rec := doJSON(s, http.MethodPost, "/api/v1/recommend", "",
		`{"prompt": "teach me systems programming"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(recommend.ReasonParseFailed), resp.Reason)
	assert.Equal(t, "I cannot help with that.", resp.RawResponse)
}

func TestRecommendUpstreamErrorHidesRawOutput(t *testing.T) {
	s := newTestServer(t, serverOptions{
		invoker: &stubInvoker{err: &llm.Error{Kind: llm.KindAuth, Message: "invalid api key"}},
	})

	rec := doJSON(s, http.MethodPost, "/api/v1/recommend", "",
		`{"prompt": "teach me systems programming"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(recommend.ReasonUpstreamAuth), resp.Reason)
	assert.Empty(t, resp.RawResponse)
}

func TestStatsRequiresToken(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := doJSON(s, http.MethodGet, "/api/v1/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatsReportsUsage(t *testing.T) {
	store := &memStore{}
	s := newTestServer(t, serverOptions{store: store})
	token := signToken(t, "user-42")

	for i := 0; i < 3; i++ {
		rec := doJSON(s, http.MethodPost, "/api/v1/recommend", token,
			`{"prompt": "teach me systems programming"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := doJSON(s, http.MethodGet, "/api/v1/stats", token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success    bool                    `json:"success"`
		Stats      recommend.Stats         `json:"stats"`
		RecentLogs []recommend.RecentEntry `json:"recentLogs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Stats.TotalCalls)
	assert.Equal(t, 3, resp.Stats.SuccessfulCalls)
	assert.Equal(t, 0, resp.Stats.FailedCalls)
	assert.Equal(t, 247, resp.Stats.RemainingCalls)
	assert.Equal(t, int64(360), resp.Stats.TotalTokens)
	assert.Len(t, resp.RecentLogs, 3)
}

func TestCoursesPublicRead(t *testing.T) {
	cat := newMemCatalog(catalog.Course{Title: "Go Basics", Description: "Intro to Go"})
	s := newTestServer(t, serverOptions{catalogStore: cat})

	rec := doJSON(s, http.MethodGet, "/api/v1/courses", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Go Basics")

	rec = doJSON(s, http.MethodGet, "/api/v1/courses/1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(s, http.MethodGet, "/api/v1/courses/nope", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCourseWriteRequiresToken(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := doJSON(s, http.MethodPost, "/api/v1/courses", "",
		`{"title": "Go Basics", "description": "Intro to Go"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCourseCreateAndDelete(t *testing.T) {
	cat := newMemCatalog()
	s := newTestServer(t, serverOptions{catalogStore: cat})
	token := signToken(t, "admin-1")

	rec := doJSON(s, http.MethodPost, "/api/v1/courses", token,
		`{"title": "Go Basics", "description": "Intro to Go", "instructor": "R. Pike"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(s, http.MethodPost, "/api/v1/courses", token, `{"title": "   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(s, http.MethodDelete, "/api/v1/courses/1", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(s, http.MethodDelete, "/api/v1/courses/1", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
