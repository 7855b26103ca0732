// Package search provides the web search providers the pipeline uses to
// enrich stage prompts.
//
// Available providers:
//
//   - Serper: Google results via google.serper.dev, API key in X-API-KEY
//   - Tavily: API key in the request body, basic/advanced depth
//   - Brave: API key via X-Subscription-Token, paced to one request per second per key
//
// Providers make exactly one HTTP round trip per call and report non-2xx
// responses as *framework.StatusError. Retrying is left to the caller's
// framework.RetryPolicy.
//
//	provider, err := search.New("serper", os.Getenv("SERPER_API_KEY"), 5)
//	results, err := provider.Search(ctx, "MS computer science Canada tuition")
package search
