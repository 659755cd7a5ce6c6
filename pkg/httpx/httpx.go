// Package httpx abstracts the HTTP client transport so the backend client
// can run over either net/http or fasthttp without the callers caring.
package httpx

import "context"

// Response is the unified response representation returned by adapters.
type Response struct {
	Status int
	Body   []byte
}

// Doer is the request signature shared by the adapters. Body may be nil
// for bodyless methods.
type Doer interface {
	Do(ctx context.Context, method, url string, header map[string]string, body []byte) (*Response, error)
}

// New returns the adapter named by transport: "fasthttp" or anything else
// for the default net/http adapter.
func New(transport string) Doer {
	if transport == "fasthttp" {
		return NewFastHTTPDoer()
	}
	return NewNetHTTPDoer()
}
