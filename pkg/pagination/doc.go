// Package pagination turns cursor-paged listings into lazy iterators.
//
// Document stores rarely return a whole prefix scan in one response: CouchDB
// pages _all_docs by startkey, DynamoDB returns LastEvaluatedKey, SQL listings
// page by the last seen id. Each store supplies a PageFetcher and this package
// drives it:
//
//	seq := pagination.Walk(ctx, func(ctx context.Context, cursor string) (pagination.Page[Doc], error) {
//		return fetchPage(ctx, cursor, pagination.DefaultPageSize)
//	})
//	for doc, err := range seq {
//		if err != nil {
//			return err
//		}
//		// use doc
//	}
//
// The walker:
//   - Fetches pages lazily, only when the consumer asks for more items
//   - Stops as soon as the consumer stops ranging
//   - Checks the context between pages
//   - Yields a single error and stops when a page fetch fails
//
// Every call to Walk starts a fresh scan; nothing is cached between calls.
package pagination
