package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
)

// SweepResult summarizes a Clear or PurgeExpired pass.
type SweepResult struct {
	Scanned int `json:"scanned"` // documents listed under the namespace
	Matched int `json:"matched"` // documents selected for deletion
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"` // rewritten or already gone while the sweep ran
	Failed  int `json:"failed"`
}

// Clear removes every entry of the repository namespace, expired or not.
//
// Deletes run in parallel and continue past individual failures. Entries
// rewritten while Clear runs are skipped. If any delete fails, the returned
// error is a *ClearError carrying the counts and the joined causes.
func (r *Repository) Clear(ctx context.Context) error {
	res, err := r.sweep(ctx, "clear", func(*Entry) bool { return true })

	ClearDeleted.Add(float64(res.Deleted))
	r.logger.Info().
		Int("scanned", res.Scanned).
		Int("deleted", res.Deleted).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Cleared cache namespace")

	return err
}

// PurgeExpired removes entries of the repository namespace whose expiration
// has passed. Live entries are left untouched.
func (r *Repository) PurgeExpired(ctx context.Context) (SweepResult, error) {
	now := r.policy.now()
	res, err := r.sweep(ctx, "purge", func(e *Entry) bool { return e.IsExpired(now) })

	SweepPurged.Add(float64(res.Deleted))
	r.logger.Debug().
		Int("scanned", res.Scanned).
		Int("purged", res.Deleted).
		Int("failed", res.Failed).
		Msg("Purged expired entries")

	return res, err
}

// sweep lists the namespace and deletes the documents selected by match.
// Undecodable documents are always selected: they belong to the namespace but
// can never be served.
func (r *Repository) sweep(ctx context.Context, op string, match func(*Entry) bool) (SweepResult, error) {
	var (
		res  SweepResult
		mu   sync.Mutex
		errs []error
	)

	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			res.Deleted++
		case errors.Is(err, docstore.ErrConflict), errors.Is(err, docstore.ErrNotFound):
			res.Skipped++
		default:
			res.Failed++
			errs = append(errs, fmt.Errorf("delete %q: %w", id, err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ClearConcurrency)

	prefix := r.codec.NamespacePrefix()
	var listErr error
	for doc, err := range r.store.ListByPrefix(gctx, prefix) {
		if err != nil {
			listErr = err
			break
		}
		res.Scanned++

		entry, err := decodeEntry(doc)
		if err == nil && !match(entry) {
			continue
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("id", doc.ID).Msg("Sweeping undecodable document")
		}
		res.Matched++

		id, rev := doc.ID, doc.Rev
		g.Go(func() error {
			record(id, r.store.Delete(gctx, id, docstore.IfMatch(rev)))
			return nil
		})
	}

	// Workers never return errors, so Wait only drains them.
	_ = g.Wait()

	if listErr != nil {
		CacheErrors.WithLabelValues(op).Inc()
		errs = append(errs, &StoreUnavailableError{Op: "list", ID: prefix, Err: listErr})
	}
	if len(errs) > 0 {
		if listErr == nil {
			CacheErrors.WithLabelValues(op).Inc()
		}
		return res, &ClearError{Result: res, Err: errors.Join(errs...)}
	}
	return res, nil
}
