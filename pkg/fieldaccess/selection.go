package fieldaccess

import (
	"slices"
	"strings"

	"github.com/posalpro/posalpro/pkg/observability"
)

// Selection is a nested field projection handed to the persistence layer.
// Values are either true (scalar field) or a nested Selection (relation).
type Selection map[string]any

// Columns returns the scalar fields in sorted order
func (s Selection) Columns() []string {
	cols := make([]string, 0, len(s))
	for k, v := range s {
		if b, ok := v.(bool); ok && b {
			cols = append(cols, k)
		}
	}
	slices.Sort(cols)
	return cols
}

// Relations returns the relation keys in sorted order
func (s Selection) Relations() []string {
	rels := make([]string, 0)
	for k, v := range s {
		if _, ok := v.(Selection); ok {
			rels = append(rels, k)
		}
	}
	slices.Sort(rels)
	return rels
}

// IsEmpty reports whether nothing beyond the identifier was selected
func (s Selection) IsEmpty() bool {
	return len(s) == 0
}

func (s Selection) clone() Selection {
	out := make(Selection, len(s))
	for k, v := range s {
		if child, ok := v.(Selection); ok {
			out[k] = child.clone()
			continue
		}
		out[k] = v
	}
	return out
}

// ParseFields splits a comma-separated field list, trimming blanks and
// dropping duplicates while keeping order
func ParseFields(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		f := strings.TrimSpace(p)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		fields = append(fields, f)
	}
	return fields
}

// Builder turns requested field lists into access-checked selections
type Builder struct {
	catalog   *Catalog
	evaluator *Evaluator
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewBuilder creates a projection builder. logger and metrics may be nil.
func NewBuilder(catalog *Catalog, logger *observability.Logger, metrics *observability.Metrics) *Builder {
	return &Builder{
		catalog:   catalog,
		evaluator: NewEvaluator(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Catalog returns the catalog the builder reads from
func (b *Builder) Catalog() *Catalog {
	return b.catalog
}

// GetSelection builds the selection for entityType. The result is always a
// subset of the entity's allowed fields and relations; fields the requester
// may not read, or that the entity does not expose, are omitted.
func (b *Builder) GetSelection(entityType string, requested []string, ac *AccessContext) Selection {
	cfg := b.catalog.GetConfig(entityType)
	selection := make(Selection)

	for _, field := range candidateFields(cfg, requested) {
		rel, isRelation := cfg.Relation(field)
		if !cfg.IsAllowed(field) && !isRelation {
			continue
		}

		decision, rule := b.evaluator.Decide(field, cfg, ac)
		if decision != Allow {
			b.recordDenial(entityType, field, rule)
			continue
		}

		if cfg.IsAllowed(field) {
			selection[field] = true
			continue
		}
		selection[field] = rel.selection()
	}

	return selection
}

// GetSelectionFromQuery is GetSelection for a comma-separated field string
func (b *Builder) GetSelectionFromQuery(entityType, fields string, ac *AccessContext) Selection {
	return b.GetSelection(entityType, ParseFields(fields), ac)
}

func candidateFields(cfg FieldConfig, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	if len(cfg.DefaultFields) > 0 {
		return cfg.DefaultFields
	}
	return cfg.AllowedFields
}

func (b *Builder) recordDenial(entityType, field, rule string) {
	if b.metrics != nil {
		b.metrics.RecordFieldDenial(entityType, rule)
	}
	if b.logger != nil {
		b.logger.WithFields(map[string]interface{}{
			"entity": entityType,
			"field":  field,
			"rule":   rule,
		}).Debug("field omitted from selection")
	}
}
