// Package couchdb implements docstore.Store on top of the CouchDB HTTP API.
//
// Each cache entry is stored as a document of the shape
//
//	{"_id": "<identifier>", "_rev": "<revision>", "data": <entry>}
//
// so the body passed to Put must be valid JSON. Revisions are CouchDB's own
// _rev tokens, which makes IfMatch and IfAbsent map directly onto CouchDB's
// 409 conflict handling.
//
// # Basic Usage
//
//	cfg := couchdb.DefaultConfig()
//	cfg.Username = "admin"
//	cfg.Password = "secret"
//
//	store, err := couchdb.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if err := store.EnsureDatabase(ctx); err != nil {
//		return err
//	}
//
//	repo, err := cache.New(store, cache.DefaultOptions())
//
// Transient failures (network, 5xx, 429) are retried with exponential backoff
// behind a circuit breaker. While the breaker is open, calls fail fast with an
// error wrapping both ErrCircuitOpen and docstore.ErrUnavailable.
package couchdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/pagination"
)

// couchDoc is the CouchDB representation of a docstore.Document.
type couchDoc struct {
	ID   string          `json:"_id"`
	Rev  string          `json:"_rev,omitempty"`
	Data json.RawMessage `json:"data"`
}

type writeResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

type allDocsResponse struct {
	TotalRows int `json:"total_rows"`
	Rows      []struct {
		ID  string    `json:"id"`
		Doc *couchDoc `json:"doc"`
	} `json:"rows"`
}

// EnsureDatabase creates the configured database if it does not exist.
func (s *Store) EnsureDatabase(ctx context.Context) error {
	resp, err := s.do(ctx, request{method: http.MethodPut, path: s.dbPath("")})
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusCreated, http.StatusAccepted:
		s.logger.Info().Str("database", s.cfg.Database).Msg("Created CouchDB database")
		return nil
	case http.StatusPreconditionFailed:
		return nil
	default:
		return fmt.Errorf("create database %q: %w", s.cfg.Database, newHTTPError(resp))
	}
}

// Ping checks that the server is up and the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	resp, err := s.do(ctx, request{method: http.MethodHead, path: s.dbPath("")})
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("%w: database %q: %w", docstore.ErrUnavailable, s.cfg.Database, newHTTPError(resp))
	}
	return nil
}

// Put implements docstore.Store.
func (s *Store) Put(ctx context.Context, id string, body []byte, hint docstore.RevisionHint) (string, error) {
	if !json.Valid(body) {
		return "", fmt.Errorf("put %q: document body is not valid JSON", id)
	}

	if !hint.Unconditional() {
		return s.put(ctx, id, body, hint.Rev)
	}

	for attempt := 0; attempt < s.cfg.MaxConflictRetries; attempt++ {
		rev, _, err := s.currentRev(ctx, id)
		if err != nil {
			return "", err
		}
		newRev, err := s.put(ctx, id, body, rev)
		if errors.Is(err, docstore.ErrConflict) {
			s.logger.Debug().Str("id", id).Int("attempt", attempt+1).Msg("Overwrite lost a race, retrying")
			continue
		}
		return newRev, err
	}
	return "", fmt.Errorf("put %q: %w after %d attempts", id, docstore.ErrConflict, s.cfg.MaxConflictRetries)
}

func (s *Store) put(ctx context.Context, id string, body []byte, rev string) (string, error) {
	payload, err := json.Marshal(couchDoc{ID: id, Rev: rev, Data: body})
	if err != nil {
		return "", fmt.Errorf("marshal document %q: %w", id, err)
	}

	resp, err := s.do(ctx, request{method: http.MethodPut, path: s.docPath(id), body: payload})
	if err != nil {
		return "", err
	}

	switch resp.status {
	case http.StatusCreated, http.StatusAccepted:
		var res writeResult
		if err := json.Unmarshal(resp.body, &res); err != nil {
			return "", fmt.Errorf("decode put response for %q: %w", id, err)
		}
		return res.Rev, nil
	case http.StatusConflict:
		return "", docstore.ErrConflict
	default:
		return "", fmt.Errorf("put %q: %w", id, newHTTPError(resp))
	}
}

// Fetch implements docstore.Store.
func (s *Store) Fetch(ctx context.Context, id string) (docstore.Document, error) {
	resp, err := s.do(ctx, request{method: http.MethodGet, path: s.docPath(id)})
	if err != nil {
		return docstore.Document{}, err
	}

	switch resp.status {
	case http.StatusOK:
		var doc couchDoc
		if err := json.Unmarshal(resp.body, &doc); err != nil {
			return docstore.Document{}, fmt.Errorf("decode document %q: %w", id, err)
		}
		return docstore.Document{ID: doc.ID, Rev: doc.Rev, Body: doc.Data}, nil
	case http.StatusNotFound:
		return docstore.Document{}, docstore.ErrNotFound
	default:
		return docstore.Document{}, fmt.Errorf("fetch %q: %w", id, newHTTPError(resp))
	}
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, id string, hint docstore.RevisionHint) error {
	switch {
	case hint.RequiresAbsent():
		_, exists, err := s.currentRev(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			return docstore.ErrConflict
		}
		return nil

	case !hint.Unconditional():
		err := s.delete(ctx, id, hint.Rev)
		if errors.Is(err, docstore.ErrNotFound) {
			return docstore.ErrConflict
		}
		return err
	}

	for attempt := 0; attempt < s.cfg.MaxConflictRetries; attempt++ {
		rev, exists, err := s.currentRev(ctx, id)
		if err != nil || !exists {
			return err
		}
		err = s.delete(ctx, id, rev)
		switch {
		case errors.Is(err, docstore.ErrConflict):
			continue
		case errors.Is(err, docstore.ErrNotFound):
			return nil
		default:
			return err
		}
	}
	return fmt.Errorf("delete %q: %w after %d attempts", id, docstore.ErrConflict, s.cfg.MaxConflictRetries)
}

func (s *Store) delete(ctx context.Context, id, rev string) error {
	resp, err := s.do(ctx, request{
		method: http.MethodDelete,
		path:   s.docPath(id),
		query:  url.Values{"rev": {rev}},
	})
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusConflict:
		return docstore.ErrConflict
	case http.StatusNotFound:
		return docstore.ErrNotFound
	default:
		return fmt.Errorf("delete %q: %w", id, newHTTPError(resp))
	}
}

// currentRev resolves the current revision of id from the HEAD ETag.
func (s *Store) currentRev(ctx context.Context, id string) (string, bool, error) {
	resp, err := s.do(ctx, request{method: http.MethodHead, path: s.docPath(id)})
	if err != nil {
		return "", false, err
	}

	switch resp.status {
	case http.StatusOK:
		return strings.Trim(resp.header.Get("ETag"), `"`), true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("head %q: %w", id, newHTTPError(resp))
	}
}

// ListByPrefix implements docstore.Store by paging through _all_docs.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) iter.Seq2[docstore.Document, error] {
	return pagination.Walk(ctx, func(ctx context.Context, cursor string) (pagination.Page[docstore.Document], error) {
		return s.listPage(ctx, prefix, cursor)
	})
}

// listPage fetches one page of at most PageSize documents starting at cursor.
// One extra row is requested to learn the next cursor.
func (s *Store) listPage(ctx context.Context, prefix, cursor string) (pagination.Page[docstore.Document], error) {
	var page pagination.Page[docstore.Document]

	start := cursor
	if start == "" {
		start = prefix
	}
	startKey, err := json.Marshal(start)
	if err != nil {
		return page, err
	}
	query := url.Values{
		"include_docs": {"true"},
		"startkey":     {string(startKey)},
		"limit":        {fmt.Sprint(s.cfg.PageSize + 1)},
	}
	if end, ok := prefixEnd(prefix); ok {
		endKey, err := json.Marshal(end)
		if err != nil {
			return page, err
		}
		query.Set("endkey", string(endKey))
		query.Set("inclusive_end", "false")
	}

	resp, err := s.do(ctx, request{
		method: http.MethodGet,
		path:   s.dbPath("/_all_docs"),
		query:  query,
	})
	if err != nil {
		return page, err
	}
	if resp.status != http.StatusOK {
		return page, fmt.Errorf("list %q: %w", prefix, newHTTPError(resp))
	}

	var result allDocsResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return page, fmt.Errorf("decode _all_docs response: %w", err)
	}

	rows := result.Rows
	if len(rows) > s.cfg.PageSize {
		page.Next = rows[s.cfg.PageSize].ID
		rows = rows[:s.cfg.PageSize]
	}
	for _, row := range rows {
		if !strings.HasPrefix(row.ID, prefix) {
			// Rows are ordered, so nothing after this one matches
			page.Next = ""
			break
		}
		if row.Doc == nil {
			continue
		}
		page.Items = append(page.Items, docstore.Document{ID: row.ID, Rev: row.Doc.Rev, Body: row.Doc.Data})
	}
	return page, nil
}

// prefixEnd returns the smallest id greater than every id starting with
// prefix, for use as an exclusive endkey. _all_docs orders ids by raw bytes,
// so bumping the last ASCII byte bounds the range exactly. ok is false when
// the prefix does not end in a bumpable ASCII byte; the listing then runs to
// the end of the database and relies on the prefix filter.
func prefixEnd(prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	last := prefix[len(prefix)-1]
	if last >= 0x7f {
		return "", false
	}
	return prefix[:len(prefix)-1] + string(rune(last+1)), true
}

var (
	_ docstore.Store  = (*Store)(nil)
	_ docstore.Pinger = (*Store)(nil)
)
