package schema

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// DefaultURL is the published pipeline schema document.
const DefaultURL = "https://raw.githubusercontent.com/buildkite/pipeline-schema/refs/heads/main/schema.json"

// FetchError reports a transport or HTTP failure retrieving the schema.
// The server treats it as recoverable: documentation and validation are
// disabled until a later load succeeds.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch schema from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a schema document that could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse schema: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Loader fetches the schema document once and caches the derived model.
type Loader struct {
	mu     sync.RWMutex
	url    string
	client *http.Client
	raw    []byte
	model  *Model
}

// Option configures a Loader.
type Option func(*Loader)

// WithURL overrides the schema location.
func WithURL(url string) Option {
	return func(l *Loader) { l.url = url }
}

// WithHTTPClient overrides the HTTP client used for the fetch.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) { l.client = client }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		url:    DefaultURL,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the schema model, fetching and building it on first use.
func (l *Loader) Load(ctx context.Context) (*Model, error) {
	l.mu.RLock()
	if l.model != nil {
		defer l.mu.RUnlock()
		return l.model, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.model != nil {
		return l.model, nil
	}

	raw, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}

	model, err := FromDocument(raw)
	if err != nil {
		return nil, err
	}

	l.raw = raw
	l.model = model
	return model, nil
}

// SchemaData returns the raw schema bytes, fetching them if needed. Used
// by the full-document validator.
func (l *Loader) SchemaData(ctx context.Context) ([]byte, error) {
	if _, err := l.Load(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.raw, nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, &FetchError{URL: l.url, Err: err}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: l.url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: l.url, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: l.url, Err: err}
	}
	return raw, nil
}
