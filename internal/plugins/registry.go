// Package plugins resolves Buildkite plugin references to their plugin.yml
// schemas, which drive completion and config validation inside a step's
// plugins block.
package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Plugin describes a commonly used plugin offered in completion even
// before any schema has been fetched.
type Plugin struct {
	Name        string
	Version     string
	Description string
}

// Popular returns the plugins suggested by default in a plugins block.
func Popular() []Plugin {
	return []Plugin{
		{"docker", "v5.13.0", "Run build steps in Docker containers"},
		{"docker-compose", "v5.10.0", "Run build steps with Docker Compose"},
		{"cache", "v1.7.0", "Cache files between builds"},
		{"artifacts", "v1.9.4", "Upload and download build artifacts"},
		{"test-collector", "v1.11.0", "Collect and analyze test results"},
		{"junit-annotate", "v2.7.0", "Annotate builds with JUnit test results"},
		{"shellcheck", "v1.4.0", "Run ShellCheck on shell scripts"},
		{"ecr", "v2.10.0", "Build and push Docker images to AWS ECR"},
		{"monorepo-diff", "v1.5.1", "Skip builds for unchanged parts of monorepos"},
		{"docker-login", "v3.0.0", "Log in to Docker registries"},
	}
}

// Schema is a plugin's published plugin.yml.
type Schema struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Author        string         `yaml:"author"`
	Requirements  []string       `yaml:"requirements"`
	Configuration map[string]any `yaml:"configuration"`

	configJSON []byte
}

// ConfigProperties returns the property names and descriptions of the
// plugin's configuration block, for completion.
func (s *Schema) ConfigProperties() map[string]string {
	if s == nil || s.Configuration == nil {
		return nil
	}
	props, ok := s.Configuration["properties"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(props))
	for name, def := range props {
		desc := ""
		if m, ok := def.(map[string]any); ok {
			desc, _ = m["description"].(string)
		}
		out[name] = desc
	}
	return out
}

// FetchFunc retrieves a plugin schema for a parsed reference. Tests
// substitute this to avoid the network.
type FetchFunc func(ctx context.Context, ref *Reference) (*Schema, error)

type cachedSchema struct {
	schema    *Schema
	expiresAt time.Time
}

// Registry caches plugin schemas with a TTL.
type Registry struct {
	mu    sync.RWMutex
	cache map[string]*cachedSchema
	ttl   time.Duration
	fetch FetchFunc
	now   func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTTL overrides how long fetched schemas are cached.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

// WithFetch overrides the schema fetcher.
func WithFetch(fetch FetchFunc) RegistryOption {
	return func(r *Registry) { r.fetch = fetch }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		cache: make(map[string]*cachedSchema),
		ttl:   24 * time.Hour,
		fetch: fetchOverHTTP(http.DefaultClient),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetSchema returns the schema for a plugin reference, fetching and
// caching it on first use or after expiry.
func (r *Registry) GetSchema(ctx context.Context, pluginRef string) (*Schema, error) {
	r.mu.RLock()
	if c, ok := r.cache[pluginRef]; ok && r.now().Before(c.expiresAt) {
		r.mu.RUnlock()
		return c.schema, nil
	}
	r.mu.RUnlock()

	ref := ParseReference(pluginRef)
	if ref == nil {
		return nil, fmt.Errorf("invalid plugin reference: %s", pluginRef)
	}

	schema, err := r.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[pluginRef] = &cachedSchema{
		schema:    schema,
		expiresAt: r.now().Add(r.ttl),
	}
	r.mu.Unlock()
	return schema, nil
}

// ValidateConfig checks a plugin's configuration against its schema. A
// plugin without a configuration schema accepts anything.
func (r *Registry) ValidateConfig(ctx context.Context, pluginRef string, config any) error {
	schema, err := r.GetSchema(ctx, pluginRef)
	if err != nil {
		return fmt.Errorf("failed to get schema for plugin %s: %w", pluginRef, err)
	}
	if schema.configJSON == nil {
		return nil
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("plugin %s config serialization failed: %w", pluginRef, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema.configJSON),
		gojsonschema.NewBytesLoader(configJSON),
	)
	if err != nil {
		return fmt.Errorf("plugin %s validation failed: %w", pluginRef, err)
	}
	if !result.Valid() {
		if errs := result.Errors(); len(errs) > 0 {
			return fmt.Errorf("plugin %s configuration error: %s", pluginRef, errs[0].Description())
		}
		return fmt.Errorf("plugin %s configuration is invalid", pluginRef)
	}
	return nil
}

// fetchOverHTTP tries each candidate plugin.yml URL in turn.
func fetchOverHTTP(client *http.Client) FetchFunc {
	return func(ctx context.Context, ref *Reference) (*Schema, error) {
		var lastErr error
		for _, url := range ref.SchemaURLs() {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				lastErr = err
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				lastErr = err
				continue
			}
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
				continue
			}
			if readErr != nil {
				lastErr = readErr
				continue
			}

			var schema Schema
			if err := yaml.Unmarshal(body, &schema); err != nil {
				lastErr = err
				continue
			}
			if schema.Configuration != nil {
				if cfg, err := json.Marshal(schema.Configuration); err == nil {
					schema.configJSON = cfg
				}
			}
			return &schema, nil
		}
		return nil, fmt.Errorf("failed to fetch plugin schema for %s/%s@%s: %v",
			ref.Org, ref.Name, ref.Version, lastErr)
	}
}

// Reference is a parsed plugin reference.
type Reference struct {
	Org     string // GitHub organization, "buildkite-plugins" when omitted
	Name    string
	Version string // "latest" when omitted
	Full    string
}

// ParseReference splits references like "docker#v5.13.0" or
// "org/name#latest" into their components.
func ParseReference(ref string) *Reference {
	if ref == "" {
		return nil
	}
	parsed := &Reference{Full: ref, Org: "buildkite-plugins", Version: "latest"}

	name := ref
	if i := strings.Index(ref, "#"); i >= 0 {
		name = ref[:i]
		parsed.Version = ref[i+1:]
	}
	if i := strings.Index(name, "/"); i >= 0 {
		parsed.Org = name[:i]
		name = name[i+1:]
	}
	parsed.Name = name
	return parsed
}

// RepositoryURL returns the plugin's GitHub repository.
func (r *Reference) RepositoryURL() string {
	return fmt.Sprintf("https://github.com/%s/%s-buildkite-plugin", r.Org, r.Name)
}

// SchemaURLs returns the plugin.yml locations to try, most specific
// first.
func (r *Reference) SchemaURLs() []string {
	base := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s-buildkite-plugin", r.Org, r.Name)
	return []string{
		fmt.Sprintf("%s/%s/plugin.yml", base, r.Version),
		base + "/main/plugin.yml",
		base + "/master/plugin.yml",
	}
}
