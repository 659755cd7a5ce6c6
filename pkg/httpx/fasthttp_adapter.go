package httpx

import (
	"context"

	"github.com/valyala/fasthttp"
)

// FastHTTPDoer adapts fasthttp's client to the Doer interface. fasthttp
// has no context plumbing of its own, so cancellation is checked at the
// call boundaries; an in-flight request is not hard-cancelled.
type FastHTTPDoer struct {
	client *fasthttp.Client
}

// NewFastHTTPDoer returns a fasthttp-backed adapter.
func NewFastHTTPDoer() *FastHTTPDoer {
	return &FastHTTPDoer{client: &fasthttp.Client{
		MaxConnsPerHost: 64,
	}}
}

func (d *FastHTTPDoer) Do(ctx context.Context, method, url string, header map[string]string, body []byte) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if len(body) > 0 {
		req.SetBody(body)
	}

	var err error
	if dl, ok := ctx.Deadline(); ok {
		err = d.client.DoDeadline(req, res, dl)
	} else {
		err = d.client.Do(req, res)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &Response{Status: res.StatusCode()}
	out.Body = append([]byte(nil), res.Body()...)
	return out, nil
}
