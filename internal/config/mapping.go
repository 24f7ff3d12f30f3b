package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// MappingKind tells how a canonical field is sourced from a raw feed entry.
type MappingKind int

const (
	// MappingAbsent leaves the canonical field at its zero value.
	MappingAbsent MappingKind = iota
	// MappingAttribute copies a raw entry attribute verbatim.
	MappingAttribute
	// MappingDate parses a raw entry attribute with a strftime format.
	MappingDate
)

// FieldMapping is resolved once while decoding configuration so the
// normalizer never inspects raw YAML shapes per entry.
type FieldMapping struct {
	Kind       MappingKind
	Attribute  string
	DateFormat string
}

// Attr builds an attribute mapping.
func Attr(name string) FieldMapping {
	return FieldMapping{Kind: MappingAttribute, Attribute: name}
}

// Date builds a date mapping.
func Date(attribute, format string) FieldMapping {
	return FieldMapping{Kind: MappingDate, Attribute: attribute, DateFormat: format}
}

// UnmarshalYAML accepts a string, a {date_attribute, date_format} map, or
// null (handled by the decoder as the zero value). Any other shape fails.
func (m *FieldMapping) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() != "!!str" {
			return fmt.Errorf("line %d: field mapping must be a string, a date map or null, got %s", node.Line, node.ShortTag())
		}
		if node.Value == "" {
			return fmt.Errorf("line %d: empty attribute name", node.Line)
		}
		*m = Attr(node.Value)
		return nil
	case yaml.MappingNode:
		var attribute, format string
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if val.Kind != yaml.ScalarNode || val.ShortTag() != "!!str" {
				return fmt.Errorf("line %d: %s must be a string", val.Line, key.Value)
			}
			switch key.Value {
			case "date_attribute":
				attribute = val.Value
			case "date_format":
				format = val.Value
			default:
				return fmt.Errorf("line %d: unknown date mapping key %q", key.Line, key.Value)
			}
		}
		if attribute == "" || format == "" {
			return fmt.Errorf("line %d: date mapping needs date_attribute and date_format", node.Line)
		}
		*m = Date(attribute, format)
		return nil
	default:
		return fmt.Errorf("line %d: field mapping must be a string, a date map or null", node.Line)
	}
}

// MarshalJSON renders the mapping in the same shape it is configured with.
func (m FieldMapping) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MappingAttribute:
		return json.Marshal(m.Attribute)
	case MappingDate:
		return json.Marshal(map[string]string{
			"date_attribute": m.Attribute,
			"date_format":    m.DateFormat,
		})
	default:
		return []byte("null"), nil
	}
}

// SourceMapping describes how entries of one journal feed map onto records.
type SourceMapping struct {
	FeedURL     string       `yaml:"feed_url" json:"feed_url"`
	SourceName  string       `yaml:"source_name" json:"source_name"`
	Title       FieldMapping `yaml:"title" json:"title"`
	Link        FieldMapping `yaml:"link" json:"link"`
	Summary     FieldMapping `yaml:"summary" json:"summary"`
	Authors     FieldMapping `yaml:"authors" json:"authors"`
	Affiliation FieldMapping `yaml:"affiliation" json:"affiliation"`
	Published   FieldMapping `yaml:"published" json:"published"`
}

// NamedField pairs a canonical field name with its mapping.
type NamedField struct {
	Name    string
	Mapping FieldMapping
}

// Fields lists the mappable canonical fields in record order.
func (s SourceMapping) Fields() []NamedField {
	return []NamedField{
		{"title", s.Title},
		{"link", s.Link},
		{"summary", s.Summary},
		{"authors", s.Authors},
		{"affiliation", s.Affiliation},
		{"published", s.Published},
	}
}
