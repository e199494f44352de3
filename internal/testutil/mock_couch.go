// Package testutil provides testing utilities for doc-cache.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MockCouchDoc is a document held by MockCouch.
type MockCouchDoc struct {
	Rev  string
	Data json.RawMessage
}

// MockCouch is an in-process CouchDB emulation covering the document API,
// _all_docs, /_session and /_up.
type MockCouch struct {
	server *httptest.Server

	mu       sync.RWMutex
	dbs      map[string]map[string]MockCouchDoc
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	sessions map[string]bool
	failures []int

	// Credentials required when Username is set.
	Username string
	Password string

	// Tracking
	RequestCount int
	MethodCounts map[string]int
	LoginCount   int
}

// NewMockCouch creates a new mock CouchDB server.
func NewMockCouch() *MockCouch {
	mock := &MockCouch{
		dbs:          make(map[string]map[string]MockCouchDoc),
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		sessions:     make(map[string]bool),
		MethodCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.MethodCounts[r.Method]++
		var status int
		if len(mock.failures) > 0 {
			status, mock.failures = mock.failures[0], mock.failures[1:]
		}
		handler, exists := mock.handlers[r.Method+" "+r.URL.Path]
		mock.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]string{"error": "injected", "reason": http.StatusText(status)})
			return
		}
		if exists {
			handler(w, r)
			return
		}
		mock.route(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCouch) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCouch) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for a method and decoded path, e.g. "GET /db/_all_docs".
func (m *MockCouch) SetHandler(methodPath string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[methodPath] = handler
}

// FailNext makes the next len(statuses) requests fail with the given statuses.
func (m *MockCouch) FailNext(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, statuses...)
}

// RequireAuth enables credential checks.
func (m *MockCouch) RequireAuth(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Username = username
	m.Password = password
}

// ExpireSessions invalidates every cookie session.
func (m *MockCouch) ExpireSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.sessions)
}

// CreateDatabase creates db if missing.
func (m *MockCouch) CreateDatabase(db string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dbs[db]; !ok {
		m.dbs[db] = make(map[string]MockCouchDoc)
	}
}

// Doc returns a stored document.
func (m *MockCouch) Doc(db, id string) (MockCouchDoc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.dbs[db][id]
	return doc, ok
}

// DocCount returns the number of documents in db.
func (m *MockCouch) DocCount(db string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dbs[db])
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCouch) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetMethodCount returns the number of requests made with method.
func (m *MockCouch) GetMethodCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MethodCounts[method]
}

// GetLoginCount returns the number of successful session logins.
func (m *MockCouch) GetLoginCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoginCount
}

func (m *MockCouch) route(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(r.URL.EscapedPath())

	switch {
	case len(segments) == 1 && segments[0] == "_up":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	case len(segments) == 1 && segments[0] == "_session" && r.Method == http.MethodPost:
		m.login(w, r)
		return
	}

	if !m.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "reason": "Name or password is incorrect."})
		return
	}

	switch {
	case len(segments) == 1:
		m.database(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "_all_docs":
		m.allDocs(w, r, segments[0])
	case len(segments) == 2:
		m.document(w, r, segments[0], segments[1])
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
	}
}

func (m *MockCouch) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if creds.Name != m.Username || creds.Password != m.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	token := uuid.NewString()
	m.sessions[token] = true
	m.LoginCount++
	http.SetCookie(w, &http.Cookie{Name: "AuthSession", Value: token, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": creds.Name})
}

func (m *MockCouch) authorized(r *http.Request) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Username == "" {
		return true
	}
	if user, pass, ok := r.BasicAuth(); ok {
		return user == m.Username && pass == m.Password
	}
	if c, err := r.Cookie("AuthSession"); err == nil {
		return m.sessions[c.Value]
	}
	return false
}

func (m *MockCouch) database(w http.ResponseWriter, r *http.Request, db string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.dbs[db]
	switch r.Method {
	case http.MethodPut:
		if exists {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "file_exists"})
			return
		}
		m.dbs[db] = make(map[string]MockCouchDoc)
		writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	case http.MethodHead, http.MethodGet:
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"db_name": db, "doc_count": len(m.dbs[db])})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	}
}

func (m *MockCouch) document(w http.ResponseWriter, r *http.Request, db, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.dbs[db]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "Database does not exist."})
		return
	}
	current, exists := docs[id]

	switch r.Method {
	case http.MethodHead, http.MethodGet:
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "missing"})
			return
		}
		w.Header().Set("ETag", strconv.Quote(current.Rev))
		writeJSON(w, http.StatusOK, map[string]any{"_id": id, "_rev": current.Rev, "data": current.Data})

	case http.MethodPut:
		var body struct {
			ID   string          `json:"_id"`
			Rev  string          `json:"_rev"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": err.Error()})
			return
		}
		if (exists && body.Rev != current.Rev) || (!exists && body.Rev != "") {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "reason": "Document update conflict."})
			return
		}
		rev := nextRev(current.Rev)
		docs[id] = MockCouchDoc{Rev: rev, Data: body.Data}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": rev})

	case http.MethodDelete:
		if !exists {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "deleted"})
			return
		}
		if r.URL.Query().Get("rev") != current.Rev {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "reason": "Document update conflict."})
			return
		}
		delete(docs, id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "rev": nextRev(current.Rev)})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	}
}

func (m *MockCouch) allDocs(w http.ResponseWriter, r *http.Request, db string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs, ok := m.dbs[db]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}

	q := r.URL.Query()
	var startKey, endKey string
	if v := q.Get("startkey"); v != "" {
		if err := json.Unmarshal([]byte(v), &startKey); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": "invalid startkey"})
			return
		}
	}
	if v := q.Get("endkey"); v != "" {
		if err := json.Unmarshal([]byte(v), &endKey); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": "invalid endkey"})
			return
		}
	}
	limit := len(docs)
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": "invalid limit"})
			return
		}
		limit = n
	}
	includeDocs := q.Get("include_docs") == "true"
	inclusiveEnd := q.Get("inclusive_end") != "false"

	ids := make([]string, 0, len(docs))
	for id := range docs {
		if id < startKey || (endKey != "" && (id > endKey || (!inclusiveEnd && id == endKey))) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		doc := docs[id]
		row := map[string]any{"id": id, "key": id, "value": map[string]string{"rev": doc.Rev}}
		if includeDocs {
			row["doc"] = map[string]any{"_id": id, "_rev": doc.Rev, "data": doc.Data}
		}
		rows = append(rows, row)
	}

	writeJSON(w, http.StatusOK, map[string]any{"total_rows": len(docs), "offset": 0, "rows": rows})
}

func nextRev(rev string) string {
	gen := 0
	if i := strings.IndexByte(rev, '-'); i > 0 {
		gen, _ = strconv.Atoi(rev[:i])
	}
	return fmt.Sprintf("%d-%s", gen+1, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func splitPath(escaped string) []string {
	var out []string
	for _, part := range strings.Split(strings.Trim(escaped, "/"), "/") {
		if part == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(part); err == nil {
			part = unescaped
		}
		out = append(out, part)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
