// Package pagination provides parallel batch fetching for paginated
// provider endpoints.
//
// The provider reports the total page count in the X-Total-Pages header.
// This package fetches the first page to learn the count, then fans the
// remaining pages out across a bounded worker group. Every page request
// goes through the caching client, so repeated batch fetches are served
// from cache and concurrent batch fetches coalesce per page.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(pagination.NewClientSource(providerClient), pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx, "/catalogs/search", url.Values{"q": {"industrial"}})
//
// Errors on individual pages abort the batch; the provider's error
// budget is too scarce to keep hammering a failing endpoint.
package pagination
