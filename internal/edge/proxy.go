package edge

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// forwardedHeaders are copied from the inbound request to the upstream call.
var forwardedHeaders = []string{"Content-Type", "Accept", "X-Request-ID"}

// ServiceProxy replays inbound requests against one upstream base URL.
type ServiceProxy struct {
	base   *url.URL
	client *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		base = &url.URL{Path: baseURL}
	}
	return &ServiceProxy{base: base, client: client}
}

// ForwardRequest sends r to path on the upstream with the original method,
// body and query string. The caller closes the response body.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := *p.base
	target.Path = p.base.Path + path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength

	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		req.Header.Set("X-Forwarded-For", host)
	}

	return p.client.Do(req)
}
