// Package fields prepares field definitions for scoring: titles and option
// labels are normalized into lookup keys and every field gets a common id
// shared by logically identical fields across runs.
package fields

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/checkin/internal/core"
)

var markup = regexp.MustCompile(`<[^>]+>`)

// Normalize strips tag-like markup, trims and lowercases s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(markup.ReplaceAllString(s, "")))
}

// CommonIDRegistry returns the common id for a key, creating one if the key
// has not been seen before.
type CommonIDRegistry interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// Field is a prepared field definition. It is immutable once prepared.
type Field struct {
	core.FieldDefinition
	Key      string // normalized title
	CommonID string

	options map[string]core.Option
}

// Option returns the option whose normalized label matches value.
func (f *Field) Option(value string) (core.Option, bool) {
	opt, ok := f.options[Normalize(value)]
	return opt, ok
}

// Summary describes the field for completion events.
func (f *Field) Summary() core.FieldSummary {
	return core.FieldSummary{
		ID:       f.ID,
		CommonID: f.CommonID,
		Title:    f.Title,
		Type:     f.Type.String(),
	}
}

// CommonKey is the registry key for a field: its type tag and normalized title.
func CommonKey(def core.FieldDefinition) string {
	tag := strings.TrimSpace(def.TypeTag)
	if tag == "" {
		tag = def.Type.String()
	}
	return tag + "-" + Normalize(def.Title)
}

// Prepare validates defs and builds their lookup structures. Common ids are
// resolved once per distinct key.
func Prepare(ctx context.Context, defs []core.FieldDefinition, registry CommonIDRegistry) ([]Field, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no field definitions", core.ErrMetadata)
	}

	resolved := make(map[string]string, len(defs))
	out := make([]Field, 0, len(defs))

	for i, def := range defs {
		if strings.TrimSpace(def.ID) == "" {
			return nil, fmt.Errorf("%w: field %d has no id", core.ErrMetadata, i)
		}

		f := Field{
			FieldDefinition: def,
			Key:             Normalize(def.Title),
		}

		if def.Type == core.FieldSingleChoice || def.Type == core.FieldMultiChoice {
			f.options = make(map[string]core.Option, len(def.Options))
			for _, opt := range def.Options {
				label := Normalize(opt.Name)
				if _, dup := f.options[label]; !dup {
					f.options[label] = opt
				}
			}
		}

		key := CommonKey(def)
		id, ok := resolved[key]
		if !ok {
			var err error
			id, err = registry.Resolve(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("resolve common id %q: %w", key, err)
			}
			resolved[key] = id
		}
		f.CommonID = id

		out = append(out, f)
	}

	return out, nil
}

// Summaries returns the summary of every field.
func Summaries(fields []Field) []core.FieldSummary {
	out := make([]core.FieldSummary, len(fields))
	for i := range fields {
		out[i] = fields[i].Summary()
	}
	return out
}
