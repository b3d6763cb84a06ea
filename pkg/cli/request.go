package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RequestFile describes a request in a YAML or JSON file.
//
//	method: POST
//	url: /v1/items
//	headers:
//	  X-Trace: abc
//	query:
//	  dry_run: "true"
//	json:
//	  name: widget
type RequestFile struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	Query   map[string]string `yaml:"query" json:"query"`

	// At most one body field may be set.
	JSON any               `yaml:"json" json:"json"`
	Form map[string]string `yaml:"form" json:"form"`
	Body string            `yaml:"body" json:"body"`
	// BodyFrom is a storage reference (path, "-" or s3://bucket/key) that
	// is streamed as the body.
	BodyFrom string `yaml:"body_from" json:"body_from"`
}

// Validate checks that the file describes a single request.
func (r *RequestFile) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("request: url is required")
	}
	n := 0
	for _, set := range []bool{r.JSON != nil, r.Form != nil, r.Body != "", r.BodyFrom != ""} {
		if set {
			n++
		}
	}
	if n > 1 {
		return fmt.Errorf("request: only one of json, form, body, body_from may be set")
	}
	return nil
}

// LoadRequest loads a request from a YAML or JSON file into the provided struct
func LoadRequest(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return ParseRequest(data, path, v)
}

// ParseRequest parses request data based on file extension or content
func ParseRequest(data []byte, filename string, v any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, v); err != nil {
			if err2 := json.Unmarshal(data, v); err2 != nil {
				return fmt.Errorf("failed to parse file (tried YAML and JSON)")
			}
		}
	}
	return nil
}
