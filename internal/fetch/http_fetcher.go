package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// HttpFetcher resolves keys against a base URL and issues plain GETs, with
// Range requests for partial reads. 401/403 responses are mapped to the
// origin rejection class so initialization can surface a human actionable
// message instead of a bare status code.
type HttpFetcher struct {
	base   *url.URL
	client *http.Client
}

func NewHttpFetcher(baseUrl string, client *http.Client) (*HttpFetcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	parsed, err := url.Parse(baseUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed base url [%s]", baseUrl)
	}
	return &HttpFetcher{base: parsed, client: client}, nil
}

func (f *HttpFetcher) resolve(key string) string {
	if key == "" {
		return f.base.String()
	}
	ref, err := url.Parse(key)
	if err != nil {
		return f.base.String() + "/" + key
	}
	// keys are resolved against the base document's directory
	base := *f.base
	if !strings.HasSuffix(base.Path, "/") {
		idx := strings.LastIndex(base.Path, "/")
		if idx >= 0 {
			base.Path = base.Path[:idx+1]
		}
	}
	return base.ResolveReference(ref).String()
}

func (f *HttpFetcher) FetchAll(ctx context.Context, key string) ([]byte, error) {
	return f.fetch(ctx, key, "")
}

func (f *HttpFetcher) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	return f.fetch(ctx, key, fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
}

func (f *HttpFetcher) fetch(ctx context.Context, key string, byteRange string) ([]byte, error) {
	target := f.resolve(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "building request for [%s]: %v", target, err)
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "fetching [%s]: %v", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Wrapf(ErrOriginRejected,
			"[%s] returned status %d: enable cross-origin access (CORS) on the serving bucket "+
				"or host the dataset on the same origin as the viewer", target, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrNotFound, "[%s] returned status 404", target)
	case resp.StatusCode >= 300:
		return nil, errors.Wrapf(ErrNetwork, "[%s] returned status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "reading body of [%s]: %v", target, err)
	}
	return body, nil
}

func (f *HttpFetcher) Close() {
	f.client.CloseIdleConnections()
}
