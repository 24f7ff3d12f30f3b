package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/itchyny/timefmt-go"
	"github.com/mmcdole/gofeed"

	"FeedRater/internal/config"
	"FeedRater/internal/domain"
)

var errMissingAttribute = errors.New("attribute missing from entry")

// Normalizer turns raw feed documents into canonical records.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer builds a normalizer; log may be nil.
func NewNormalizer(log *slog.Logger) *Normalizer {
	return &Normalizer{logger: log}
}

// Normalize parses raw (RSS, Atom or JSON Feed) and maps every entry with
// mapping. Entries that fail their mapping are dropped with a warning; the
// returned records are not persisted and carry no ID.
func (n *Normalizer) Normalize(raw []byte, mapping config.SourceMapping) ([]domain.Record, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	records := make([]domain.Record, 0, len(feed.Items))
	for i, item := range feed.Items {
		record, err := buildRecord(entryAttributes(item), mapping)
		if err != nil {
			var parseErr *domain.ParseError
			if !errors.As(err, &parseErr) {
				return nil, err
			}
			n.warn("drop feed entry", "source", mapping.SourceName, "index", i, "error", err)
			continue
		}
		records = append(records, record)
	}

	n.debug("feed normalized", "source", mapping.SourceName, "entries", len(feed.Items), "records", len(records))
	return records, nil
}

func buildRecord(attrs map[string]string, mapping config.SourceMapping) (domain.Record, error) {
	record := domain.Record{Source: mapping.SourceName}
	entry := attrs["link"]
	if entry == "" {
		entry = attrs["title"]
	}

	for _, field := range mapping.Fields() {
		m := field.Mapping
		switch m.Kind {
		case config.MappingAbsent:
			continue
		case config.MappingAttribute, config.MappingDate:
		default:
			return domain.Record{}, fmt.Errorf("field %s: unsupported mapping kind %d", field.Name, m.Kind)
		}

		value, ok := attrs[m.Attribute]
		if !ok {
			return domain.Record{}, &domain.ParseError{Entry: entry, Attribute: m.Attribute, Err: errMissingAttribute}
		}

		if field.Name == "published" {
			published, err := parseTimestamp(value, m)
			if err != nil {
				return domain.Record{}, &domain.ParseError{Entry: entry, Attribute: m.Attribute, Err: err}
			}
			record.Published = published
			continue
		}

		switch field.Name {
		case "title":
			record.Title = value
		case "link":
			record.Link = value
		case "summary":
			record.Summary = value
		case "authors":
			record.Authors = value
		case "affiliation":
			record.Affiliation = value
		}
	}

	if record.Link == "" {
		return domain.Record{}, &domain.ParseError{Entry: entry, Attribute: "link", Err: errors.New("record has no link")}
	}
	return record, nil
}

func parseTimestamp(value string, m config.FieldMapping) (time.Time, error) {
	if m.Kind == config.MappingDate {
		t, err := timefmt.Parse(value, m.DateFormat)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %q with %q: %w", value, m.DateFormat, err)
		}
		return t.UTC(), nil
	}
	t, err := dateparse.ParseAny(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", value, err)
	}
	return t.UTC(), nil
}

// entryAttributes flattens a parsed item into named attributes. Empty
// values are left out so that a mapping naming them fails.
func entryAttributes(item *gofeed.Item) map[string]string {
	attrs := map[string]string{}
	set := func(key, value string) {
		value = strings.TrimSpace(value)
		if value != "" {
			attrs[key] = value
		}
	}

	set("title", item.Title)
	set("link", item.Link)
	set("description", item.Description)
	set("summary", item.Description)
	set("content", item.Content)
	set("id", item.GUID)
	set("guid", item.GUID)
	set("published", item.Published)
	set("updated", item.Updated)
	set("categories", strings.Join(item.Categories, ", "))

	if _, ok := attrs["summary"]; !ok {
		set("summary", item.Content)
	}
	if _, ok := attrs["link"]; !ok && len(item.Links) > 0 {
		set("link", item.Links[0])
	}

	var names []string
	for _, p := range item.Authors {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			names = append(names, strings.TrimSpace(p.Name))
		}
	}
	set("authors", strings.Join(names, ", "))
	if len(names) > 0 {
		set("author", names[0])
	}

	for prefix, elements := range item.Extensions {
		for name, values := range elements {
			var parts []string
			for _, v := range values {
				if s := strings.TrimSpace(v.Value); s != "" {
					parts = append(parts, s)
				}
			}
			set(strings.ToLower(prefix+"_"+name), strings.Join(parts, ", "))
		}
	}

	for key, value := range item.Custom {
		if _, ok := attrs[key]; !ok {
			set(key, value)
		}
	}

	return attrs
}

func (n *Normalizer) warn(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Warn(msg, args...)
	}
}

func (n *Normalizer) debug(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Debug(msg, args...)
	}
}
