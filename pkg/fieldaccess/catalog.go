package fieldaccess

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog is returned when a catalog document fails validation
var ErrInvalidCatalog = errors.New("invalid field catalog")

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// SecurityConfig holds the field-level security annotations for an entity
type SecurityConfig struct {
	// MinRole is the legacy baseline role for fields without a specific rule
	MinRole string `yaml:"minRole,omitempty" json:"minRole,omitempty"`

	// RestrictedFields are visible to admin roles only
	RestrictedFields []string `yaml:"restrictedFields,omitempty" json:"restrictedFields,omitempty"`

	// SelfAccessOnly fields are visible to the record's subject or an admin
	SelfAccessOnly []string `yaml:"selfAccessOnly,omitempty" json:"selfAccessOnly,omitempty"`

	// FieldRoleMap maps a field to the roles allowed to read it
	FieldRoleMap map[string][]string `yaml:"fieldRoleMap,omitempty" json:"fieldRoleMap,omitempty"`

	// FieldPermissionMap maps a field to the permissions allowed to read it
	FieldPermissionMap map[string][]string `yaml:"fieldPermissionMap,omitempty" json:"fieldPermissionMap,omitempty"`
}

// IsRestricted reports whether field is admin-only
func (s *SecurityConfig) IsRestricted(field string) bool {
	return s != nil && slices.Contains(s.RestrictedFields, field)
}

// IsSelfAccessOnly reports whether field is limited to the record's subject
func (s *SecurityConfig) IsSelfAccessOnly(field string) bool {
	return s != nil && slices.Contains(s.SelfAccessOnly, field)
}

// hasSpecificRule reports whether any field-specific annotation covers field
func (s *SecurityConfig) hasSpecificRule(field string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.FieldPermissionMap[field]; ok {
		return true
	}
	if _, ok := s.FieldRoleMap[field]; ok {
		return true
	}
	return s.IsRestricted(field) || s.IsSelfAccessOnly(field)
}

// RelationSpec describes the sub-selection returned for a related entity.
// It is either a flat list of fields or a fully nested selection.
type RelationSpec struct {
	Fields []string
	Nested Selection
}

// UnmarshalYAML accepts either a sequence of field names or a nested mapping
func (r *RelationSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&r.Fields)
	case yaml.MappingNode:
		var raw map[string]any
		if err := node.Decode(&raw); err != nil {
			return err
		}
		nested, err := selectionFromYAML(raw)
		if err != nil {
			return err
		}
		r.Nested = nested
		return nil
	default:
		return fmt.Errorf("relation spec must be a list or a mapping (line %d)", node.Line)
	}
}

// selection returns the relation as a selection tree
func (r RelationSpec) selection() Selection {
	if r.Nested != nil {
		return r.Nested.clone()
	}
	sel := make(Selection, len(r.Fields))
	for _, f := range r.Fields {
		sel[f] = true
	}
	return sel
}

// selectionFromYAML converts decoded YAML into a Selection, keeping only
// boolean leaves and nested mappings
func selectionFromYAML(raw map[string]any) (Selection, error) {
	sel := make(Selection, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case bool:
			if v {
				sel[key] = true
			}
		case map[string]any:
			child, err := selectionFromYAML(v)
			if err != nil {
				return nil, err
			}
			sel[key] = child
		default:
			return nil, fmt.Errorf("unsupported selection value for %q: %T", key, value)
		}
	}
	return sel, nil
}

// FieldConfig is the static field table for one entity type
type FieldConfig struct {
	Table         string                  `yaml:"table,omitempty"`
	AllowedFields []string                `yaml:"allowedFields"`
	DefaultFields []string                `yaml:"defaultFields,omitempty"`
	Relations     map[string]RelationSpec `yaml:"relations,omitempty"`
	Security      *SecurityConfig         `yaml:"security,omitempty"`

	// Resource is the permission resource guarding reads; Table when empty
	Resource string `yaml:"resource,omitempty"`

	// OwnerField names the field holding the owning user's ID, which OWN
	// and TEAM scoped grants are checked against
	OwnerField string `yaml:"ownerField,omitempty"`
}

// IsAllowed reports whether field may ever be requested
func (c FieldConfig) IsAllowed(field string) bool {
	return slices.Contains(c.AllowedFields, field)
}

// PermissionResource returns the resource record reads are checked against
func (c FieldConfig) PermissionResource() string {
	if c.Resource != "" {
		return c.Resource
	}
	return c.Table
}

// Relation returns the relation spec registered under name
func (c FieldConfig) Relation(name string) (RelationSpec, bool) {
	r, ok := c.Relations[name]
	return r, ok
}

// fallbackConfig is served for entity types missing from the catalog
func fallbackConfig() FieldConfig {
	return FieldConfig{
		AllowedFields: []string{"id"},
		DefaultFields: []string{"id"},
	}
}

// Catalog is an immutable, per-entity table of field configurations
type Catalog struct {
	entities map[string]FieldConfig
}

type catalogDocument struct {
	Entities map[string]FieldConfig `yaml:"entities"`
}

// NewCatalog builds a catalog from entity configs after validating them
func NewCatalog(entities map[string]FieldConfig) (*Catalog, error) {
	copied := make(map[string]FieldConfig, len(entities))
	for name, cfg := range entities {
		if err := validateConfig(name, cfg); err != nil {
			return nil, err
		}
		copied[name] = cfg
	}
	return &Catalog{entities: copied}, nil
}

// ParseCatalog parses a YAML catalog document
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("%w: no entities defined", ErrInvalidCatalog)
	}
	return NewCatalog(doc.Entities)
}

// LoadCatalog reads and parses a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the catalog compiled into the binary
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// GetConfig returns the config for entityType, or a config exposing only id
func (c *Catalog) GetConfig(entityType string) FieldConfig {
	if c != nil {
		if cfg, ok := c.entities[entityType]; ok {
			return cfg
		}
	}
	return fallbackConfig()
}

// Has reports whether entityType is defined in the catalog
func (c *Catalog) Has(entityType string) bool {
	if c == nil {
		return false
	}
	_, ok := c.entities[entityType]
	return ok
}

// EntityTypes returns the defined entity names in sorted order
func (c *Catalog) EntityTypes() []string {
	names := make([]string, 0, len(c.entities))
	for name := range c.entities {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func validateConfig(entity string, cfg FieldConfig) error {
	if len(cfg.AllowedFields) == 0 {
		return fmt.Errorf("%w: entity %q has no allowed fields", ErrInvalidCatalog, entity)
	}

	known := func(field string) bool {
		if cfg.IsAllowed(field) {
			return true
		}
		_, ok := cfg.Relations[field]
		return ok
	}

	if cfg.OwnerField != "" && !cfg.IsAllowed(cfg.OwnerField) {
		return fmt.Errorf("%w: entity %q owner field %q is not allowed", ErrInvalidCatalog, entity, cfg.OwnerField)
	}

	for _, f := range cfg.DefaultFields {
		if !known(f) {
			return fmt.Errorf("%w: entity %q default field %q is not allowed", ErrInvalidCatalog, entity, f)
		}
	}

	sec := cfg.Security
	if sec == nil {
		return nil
	}

	check := func(kind string, fields []string) error {
		for _, f := range fields {
			if !known(f) {
				return fmt.Errorf("%w: entity %q %s field %q is not allowed", ErrInvalidCatalog, entity, kind, f)
			}
		}
		return nil
	}

	if err := check("restricted", sec.RestrictedFields); err != nil {
		return err
	}
	if err := check("self-access", sec.SelfAccessOnly); err != nil {
		return err
	}
	for f := range sec.FieldRoleMap {
		if err := check("role-mapped", []string{f}); err != nil {
			return err
		}
	}
	for f := range sec.FieldPermissionMap {
		if err := check("permission-mapped", []string{f}); err != nil {
			return err
		}
	}
	return nil
}
