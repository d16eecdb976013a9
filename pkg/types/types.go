package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Format selects how a conversion result is rendered to the client.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat validates a format query value. An empty value selects
// the markdown default.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "":
		return FormatMarkdown, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format %q", s)
	}
}

// ConversionRequest describes one inbound conversion.
// RawURL is the target address exactly as the client supplied it;
// validation and normalization happen inside the pipeline.
type ConversionRequest struct {
	RawURL   string
	Format   Format
	ClientID string
}

// Document is the extracted content of a fetched page. It is built once
// per successful fetch+extract and never mutated afterwards; the cache
// stores it verbatim.
type Document struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ConversionResult is the per-request outcome. It is never persisted;
// only the embedded Document is cached.
type ConversionResult struct {
	Document  *Document
	Format    Format
	FromCache bool
}

// Duration wraps time.Duration with YAML and JSON unmarshaling so
// config files can say "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
