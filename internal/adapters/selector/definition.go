// Package selector implements a crawler.Adapter driven entirely by CSS
// selectors declared in YAML, so new sources need configuration rather than
// code.
package selector

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the top-level shape of a sources YAML file.
type File struct {
	Sources []Definition `yaml:"sources"`
}

// Definition describes one source.
type Definition struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name,omitempty"`
	BaseURL     string `yaml:"base_url"`
	// ProbeURL, when set, is requested with HEAD before each listing pass.
	ProbeURL string `yaml:"probe_url,omitempty"`

	StartURLs      []string      `yaml:"start_urls"`
	LinkSelector   string        `yaml:"link_selector"`
	NextSelector   string        `yaml:"next_selector,omitempty"`
	MaxPages       int           `yaml:"max_pages,omitempty"`
	RespectRobots  bool          `yaml:"respect_robots,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	Fields          Fields            `yaml:"fields"`
	Attributes      map[string]string `yaml:"attributes,omitempty"`
	PhotoSelector   string            `yaml:"photo_selector,omitempty"`
	DefaultCurrency string            `yaml:"default_currency,omitempty"`
	// Required lists listing fields (price, currency, location, description,
	// photos) or attribute keys that must be present for Validate to pass.
	Required []string `yaml:"required,omitempty"`
}

// Fields maps listing fields to selectors. A selector may end in "@attr" to
// read an attribute instead of text.
type Fields struct {
	Title       string `yaml:"title"`
	Price       string `yaml:"price,omitempty"`
	Currency    string `yaml:"currency,omitempty"`
	Location    string `yaml:"location,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// LoadFile reads and validates definitions from path.
func LoadFile(path string) ([]Definition, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates definitions from YAML bytes.
func Parse(data []byte) ([]Definition, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources yaml: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Sources))
	for i := range f.Sources {
		def := &f.Sources[i]
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("source %q defined twice", def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	return f.Sources, nil
}

// Validate checks the definition is usable.
func (d Definition) Validate() error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("name is required")
	case len(d.StartURLs) == 0:
		return fmt.Errorf("%s: start_urls is required", d.Name)
	case d.LinkSelector == "":
		return fmt.Errorf("%s: link_selector is required", d.Name)
	case d.Fields.Title == "":
		return fmt.Errorf("%s: fields.title is required", d.Name)
	case d.MaxPages < 0:
		return fmt.Errorf("%s: max_pages must be >= 0", d.Name)
	}
	return nil
}
