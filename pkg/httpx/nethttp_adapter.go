package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// NetHTTPDoer adapts the stdlib client to the Doer interface.
type NetHTTPDoer struct {
	client *http.Client
}

// NewNetHTTPDoer returns a net/http-backed adapter. No per-request
// timeout is set beyond the transport's own; slow requests are governed
// by the caller's context.
func NewNetHTTPDoer() *NetHTTPDoer {
	return &NetHTTPDoer{client: &http.Client{Transport: &http.Transport{
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}}}
}

func (d *NetHTTPDoer) Do(ctx context.Context, method, url string, header map[string]string, body []byte) (*Response, error) {
	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: res.StatusCode, Body: b}, nil
}
