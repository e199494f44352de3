package pagination

import (
	"context"
	"fmt"
	"iter"

	"github.com/rs/zerolog/log"
)

// DefaultPageSize is the page size stores use when none is configured.
const DefaultPageSize = 100

// Page is a single page of a cursor-paged listing.
type Page[T any] struct {
	// Items holds the page contents in listing order.
	Items []T

	// Next is the cursor for the following page. Empty means no more pages.
	Next string
}

// PageFetcher fetches the page that starts at cursor. The first call receives
// an empty cursor.
type PageFetcher[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Walk returns a lazy sequence over every item of every page.
// A fetch error is yielded once, paired with the zero value, and ends the sequence.
func Walk[T any](ctx context.Context, fetch PageFetcher[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		cursor := ""
		pages := 0
		items := 0

		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			page, err := fetch(ctx, cursor)
			if err != nil {
				log.Debug().
					Err(err).
					Int("page", pages+1).
					Msg("Page fetch failed")
				yield(zero, fmt.Errorf("fetch page %d: %w", pages+1, err))
				return
			}
			pages++

			for _, item := range page.Items {
				items++
				if !yield(item, nil) {
					return
				}
			}

			if page.Next == "" || len(page.Items) == 0 {
				log.Debug().
					Int("pages", pages).
					Int("items", items).
					Msg("Listing complete")
				return
			}
			cursor = page.Next
		}
	}
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
