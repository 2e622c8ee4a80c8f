// Package pagination assembles complete result sets from paginated forge
// listing endpoints.
//
// The forge API pages its collections with page/per_page query parameters.
// The fetcher walks pages sequentially until a short or empty page signals
// the end of the collection. A hard page cap guarantees termination against
// an unbounded or misbehaving remote collection: when the cap is hit, the
// pages fetched so far are returned together with ErrPageLimitExceeded so
// the caller can decide whether partial data is acceptable.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(forgeClient, pagination.DefaultConfig())
//	records, err := fetcher.FetchAll(ctx, "/groups/42/subgroups")
//
// A page that terminally fails (retry exhaustion, non-2xx status) aborts the
// fetch and discards partial results: an incomplete listing must never be
// mistaken for a complete one by idempotency decisions.
package pagination
