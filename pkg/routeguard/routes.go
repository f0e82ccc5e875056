package routeguard

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/posalpro/posalpro/pkg/audit"
	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/posalpro/posalpro/pkg/rbac"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidRoute is returned for a route entry that fails validation
	ErrInvalidRoute = errors.New("invalid route")

	// ErrDuplicateRoute is returned when adding a path and method pair twice
	ErrDuplicateRoute = errors.New("route already registered")

	// ErrUnknownRoute is returned when removing a route that is not registered
	ErrUnknownRoute = errors.New("route not registered")
)

//go:embed routes.yaml
var defaultRoutesYAML []byte

// RouteConfig is the coarse access requirement for a path prefix
type RouteConfig struct {
	Path                string          `yaml:"path" json:"path"`
	Method              string          `yaml:"method,omitempty" json:"method,omitempty"`
	RequiredPermissions []string        `yaml:"requiredPermissions,omitempty" json:"requiredPermissions,omitempty"`
	RequiredRoles       []string        `yaml:"requiredRoles,omitempty" json:"requiredRoles,omitempty"`
	AllowPublic         bool            `yaml:"allowPublic,omitempty" json:"allowPublic,omitempty"`
	RiskLevel           audit.RiskLevel `yaml:"riskLevel,omitempty" json:"riskLevel,omitempty"`
}

// normalize canonicalizes the path, method and risk level and checks every
// required permission is a plain resource:action pair
func (rc RouteConfig) normalize() (RouteConfig, error) {
	if !strings.HasPrefix(rc.Path, "/") {
		return rc, fmt.Errorf("%w: path %q must start with /", ErrInvalidRoute, rc.Path)
	}
	rc.Path = path.Clean(rc.Path)
	rc.Method = strings.ToUpper(strings.TrimSpace(rc.Method))

	risk, ok := audit.ParseRiskLevel(string(rc.RiskLevel))
	if !ok {
		return rc, fmt.Errorf("%w: %s: unknown risk level %q", ErrInvalidRoute, rc.Path, rc.RiskLevel)
	}
	rc.RiskLevel = risk

	for _, p := range rc.RequiredPermissions {
		perm, err := rbac.ParsePermission(p)
		if err != nil {
			return rc, fmt.Errorf("%w: %s: %v", ErrInvalidRoute, rc.Path, err)
		}
		if perm.Scope != "" {
			return rc, fmt.Errorf("%w: %s: route permission %q cannot be scoped", ErrInvalidRoute, rc.Path, p)
		}
	}

	if rc.AllowPublic && (len(rc.RequiredPermissions) > 0 || len(rc.RequiredRoles) > 0) {
		return rc, fmt.Errorf("%w: %s: public route with requirements", ErrInvalidRoute, rc.Path)
	}

	rc.RequiredPermissions = append([]string(nil), rc.RequiredPermissions...)
	rc.RequiredRoles = append([]string(nil), rc.RequiredRoles...)
	return rc, nil
}

// matches reports whether prefix covers urlPath on a segment boundary
func matches(prefix, urlPath string) bool {
	if prefix == "/" {
		return true
	}
	return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
}

type routeKey struct {
	path   string
	method string
}

// Registry is a concurrency-safe route table
type Registry struct {
	mu     sync.RWMutex
	routes map[routeKey]RouteConfig
}

// NewRegistry creates a registry holding routes
func NewRegistry(routes ...RouteConfig) (*Registry, error) {
	table, err := buildTable(routes)
	if err != nil {
		return nil, err
	}
	return &Registry{routes: table}, nil
}

// DefaultRegistry creates a registry from the embedded route table
func DefaultRegistry() (*Registry, error) {
	routes, err := ParseRoutes(defaultRoutesYAML)
	if err != nil {
		return nil, err
	}
	return NewRegistry(routes...)
}

func buildTable(routes []RouteConfig) (map[routeKey]RouteConfig, error) {
	table := make(map[routeKey]RouteConfig, len(routes))
	for _, rc := range routes {
		rc, err := rc.normalize()
		if err != nil {
			return nil, err
		}
		key := routeKey{rc.Path, rc.Method}
		if _, exists := table[key]; exists {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateRoute, rc.Method, rc.Path)
		}
		table[key] = rc
	}
	return table, nil
}

// Add registers a route. A path and method pair may only be added once.
func (reg *Registry) Add(rc RouteConfig) error {
	rc, err := rc.normalize()
	if err != nil {
		return err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	key := routeKey{rc.Path, rc.Method}
	if _, exists := reg.routes[key]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicateRoute, rc.Method, rc.Path)
	}
	reg.routes[key] = rc
	return nil
}

// Remove unregisters the route for prefix and method
func (reg *Registry) Remove(prefix, method string) error {
	key := routeKey{path.Clean(prefix), strings.ToUpper(method)}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.routes[key]; !exists {
		return fmt.Errorf("%w: %s %s", ErrUnknownRoute, key.method, key.path)
	}
	delete(reg.routes, key)
	return nil
}

// Replace swaps the whole table. On error the current table is kept.
func (reg *Registry) Replace(routes []RouteConfig) error {
	table, err := buildTable(routes)
	if err != nil {
		return err
	}

	reg.mu.Lock()
	reg.routes = table
	reg.mu.Unlock()
	return nil
}

// Match returns the route governing method and urlPath. The longest prefix
// wins; for equal prefixes an entry for the method beats a method-less one.
func (reg *Registry) Match(method, urlPath string) (RouteConfig, bool) {
	method = strings.ToUpper(method)
	if urlPath == "" {
		urlPath = "/"
	}

	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var (
		best  RouteConfig
		found bool
	)
	for _, rc := range reg.routes {
		if rc.Method != "" && rc.Method != method {
			continue
		}
		if !matches(rc.Path, urlPath) {
			continue
		}
		if !found || len(rc.Path) > len(best.Path) ||
			(len(rc.Path) == len(best.Path) && best.Method == "" && rc.Method != "") {
			best, found = rc, true
		}
	}
	return best, found
}

// Routes returns a snapshot of the table ordered by path then method
func (reg *Registry) Routes() []RouteConfig {
	reg.mu.RLock()
	out := make([]RouteConfig, 0, len(reg.routes))
	for _, rc := range reg.routes {
		out = append(out, rc)
	}
	reg.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

type routeFile struct {
	Routes []RouteConfig `yaml:"routes"`
}

// ParseRoutes decodes a YAML route table
func ParseRoutes(data []byte) ([]RouteConfig, error) {
	var doc routeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}
	for i, rc := range doc.Routes {
		normalized, err := rc.normalize()
		if err != nil {
			return nil, err
		}
		doc.Routes[i] = normalized
	}
	return doc.Routes, nil
}

// LoadRoutes reads a YAML route table from disk
func LoadRoutes(filename string) ([]RouteConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}
	return ParseRoutes(data)
}

// Watch reloads filename into the registry whenever it changes, until ctx
// is done. The directory is watched so that editors replacing the file by
// rename are seen. A table that fails to load is logged and ignored.
func (reg *Registry) Watch(ctx context.Context, filename string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	filename = filepath.Clean(filename)
	if err := watcher.Add(filepath.Dir(filename)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filename, err)
	}

	logger = logger.WithField("route_file", filename)
	logger.Info("watching route table")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			routes, err := LoadRoutes(filename)
			if err != nil {
				logger.WithError(err).Warn("route table reload failed, keeping current table")
				continue
			}
			if err := reg.Replace(routes); err != nil {
				logger.WithError(err).Warn("route table reload failed, keeping current table")
				continue
			}
			logger.WithField("routes", len(routes)).Info("route table reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("route watcher error")
		}
	}
}
