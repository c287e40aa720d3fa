package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"registrar/config"
	"registrar/school"
	"registrar/store"
	"registrar/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		CSRFKey:         []byte("0123456789abcdef0123456789abcdef"),
		WriteRatePerMin: 60000,
		WriteBurst:      1000,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "school.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := school.NewRegistry(db)
	hub := ws.NewHub(func(ctx context.Context) (interface{}, error) {
		return registry.Roster(ctx)
	})
	server := NewServer(registry, school.NewResolver(db), hub, cfg)
	t.Cleanup(server.Close)
	return server.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestAPI_StudentsAndCourses(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, testConfig())

	rec := doJSON(t, h, "GET", "/api/students", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doJSON(t, h, "POST", "/api/students", `{"name":"Bob","email":"bob@x.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":1,"name":"Bob","email":"bob@x.com","phone":null}`, rec.Body.String())

	rec = doJSON(t, h, "POST", "/api/students", `{"name":"","email":"x@y.z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "name is required")

	rec = doJSON(t, h, "POST", "/api/students", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "invalid request body", decodeError(t, rec))

	for _, path := range []string{"/api/courses", "/api/assignments"} {
		rec = doJSON(t, h, "POST", path, `[1,2`)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "invalid request body", decodeError(t, rec), path)
	}

	rec = doJSON(t, h, "POST", "/api/courses", `{"name":"Physics"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":1,"name":"Physics","description":null}`, rec.Body.String())

	rec = doJSON(t, h, "GET", "/api/students", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"name":"Bob","email":"bob@x.com","phone":null}]`, rec.Body.String())

	rec = doJSON(t, h, "GET", "/api/roster", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"students":["Bob"],"courses":["Physics"]}`, rec.Body.String())
}

func TestAPI_Assignments(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, testConfig())

	require.Equal(t, http.StatusCreated, doJSON(t, h, "POST", "/api/students", `{"name":"Alice"}`).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, h, "POST", "/api/courses", `{"name":"Zoology"}`).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, h, "POST", "/api/courses", `{"name":"Algebra"}`).Code)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"first assignment", `{"studentName":"Alice","courseName":"Zoology"}`, http.StatusCreated},
		{"second course", `{"studentName":"Alice","courseName":"Algebra"}`, http.StatusCreated},
		{"duplicate", `{"studentName":"Alice","courseName":"Zoology"}`, http.StatusConflict},
		{"unknown student", `{"studentName":"Nonexistent","courseName":"Zoology"}`, http.StatusNotFound},
		{"missing course", `{"studentName":"Alice","courseName":""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := doJSON(t, h, "POST", "/api/assignments", tt.body)
		assert.Equal(t, tt.status, rec.Code, tt.name)
	}

	rec := doJSON(t, h, "GET", "/api/assignments", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []store.Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Algebra", rows[0].CourseName)
	assert.Equal(t, "Zoology", rows[1].CourseName)
	assert.Equal(t, "Alice", rows[1].StudentName)
}

func TestAPI_NotFoundAndHealth(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, testConfig())

	rec := doJSON(t, h, "GET", "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeError(t, rec))

	rec = doJSON(t, h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAPI_RateLimitedWrites(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.WriteRatePerMin = 1
	cfg.WriteBurst = 1
	h := newTestServer(t, cfg)

	assert.Equal(t, http.StatusCreated, doJSON(t, h, "POST", "/api/courses", `{"name":"Math"}`).Code)
	rec := doJSON(t, h, "POST", "/api/courses", `{"name":"Art"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, decodeError(t, rec), "Too many requests")

	// Reads are never throttled.
	assert.Equal(t, http.StatusOK, doJSON(t, h, "GET", "/api/courses", "").Code)
}

var tokenPattern = regexp.MustCompile(`name="gorilla.csrf.Token" value="([^"]+)"`)

// loadForm fetches the page and returns the CSRF token and cookies a
// browser would send back with the next form post.
func loadForm(t *testing.T, h http.Handler) (string, []*http.Cookie, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/?tab=assign", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	match := tokenPattern.FindStringSubmatch(rec.Body.String())
	require.Len(t, match, 2)
	return match[1], rec.Result().Cookies(), rec.Body.String()
}

func postForm(t *testing.T, h http.Handler, path, token string, cookies []*http.Cookie, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		form.Set("gorilla.csrf.Token", token)
	}
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPages_FormFlow(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, testConfig())

	token, cookies, body := loadForm(t, h)
	assert.Contains(t, body, "Manage Students")
	assert.Contains(t, body, "Assign Students to Courses")
	assert.Contains(t, body, "No assignments yet")

	t.Run("post without token is rejected", func(t *testing.T) {
		rec := postForm(t, h, "/students", "", nil, url.Values{"name": {"Mallory"}})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	rec := postForm(t, h, "/students", token, cookies, url.Values{"name": {"Bob"}, "email": {"bob@x.com"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "msg=Student+added+successfully")

	rec = postForm(t, h, "/courses", token, cookies, url.Values{"name": {"Physics"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = postForm(t, h, "/courses", token, cookies, url.Values{"name": {" "}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "err=")

	rec = postForm(t, h, "/assignments", token, cookies, url.Values{"student": {"Bob"}, "course": {"Physics"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "Assigned+Bob+to+Physics")

	rec = postForm(t, h, "/assignments", token, cookies, url.Values{"student": {"Bob"}, "course": {"Physics"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "assign", loc.Query().Get("tab"))
	assert.Contains(t, loc.Query().Get("err"), "Bob is already assigned to Physics")

	_, _, body = loadForm(t, h)
	assert.Contains(t, body, "<td>Physics</td>")
	assert.Contains(t, body, "<option>Bob</option>")
	assert.NotContains(t, body, "No assignments yet")
}

func readRosterUpdate(t *testing.T, conn *websocket.Conn) school.Roster {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg struct {
		Type    string        `json:"type"`
		Payload school.Roster `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.TypeRosterUpdate, msg.Type)
	return msg.Payload
}

func TestRosterSocket(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newTestServer(t, testConfig()))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/roster"

	t.Run("cross-origin page is refused", func(t *testing.T) {
		header := http.Header{"Origin": {"http://evil.example"}}
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if conn != nil {
			conn.Close()
		}
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	defer conn.Close()

	first := readRosterUpdate(t, conn)
	assert.Empty(t, first.Students)
	assert.Empty(t, first.Courses)

	resp, err := http.Post(srv.URL+"/api/students", "application/json", strings.NewReader(`{"name":"Bob"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	second := readRosterUpdate(t, conn)
	assert.Equal(t, []string{"Bob"}, second.Students)

	resp, err = http.Post(srv.URL+"/api/courses", "application/json", strings.NewReader(`{"name":"Physics"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	third := readRosterUpdate(t, conn)
	assert.Equal(t, []string{"Bob"}, third.Students)
	assert.Equal(t, []string{"Physics"}, third.Courses)
}
