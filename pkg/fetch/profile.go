package fetch

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/bulkfetch/pkg/record"
)

// Field value types understood by FieldSpec.Type.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeList   = "list"
)

const (
	defaultIDPattern = `^\d+$`
	defaultIDExtract = `\d+`
	idPlaceholder    = "{id}"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	numberRe     = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// FieldSpec describes how to extract one field from a page.
type FieldSpec struct {
	// Name is the field name in the resulting record.
	Name string `yaml:"name"`

	// Selector is a CSS selector evaluated against the page.
	Selector string `yaml:"selector"`

	// Attr reads an attribute instead of the element text.
	Attr string `yaml:"attr,omitempty"`

	// Pattern is an optional regexp applied to the extracted text.
	// The first capture group is used when present.
	Pattern string `yaml:"pattern,omitempty"`

	// Type is one of string (default), int, float, list.
	Type string `yaml:"type,omitempty"`

	// Required turns a missing value into an extract error.
	Required bool `yaml:"required,omitempty"`

	pattern *regexp.Regexp
}

// Profile describes one record category: how identifiers become URLs and
// which fields are extracted from the page.
type Profile struct {
	// Category names the record kind (e.g. book, author, user).
	Category string `yaml:"category"`

	// URLTemplate builds a URL from a bare identifier; must contain {id}.
	URLTemplate string `yaml:"url_template"`

	// URLPattern matches identifiers that are already full URLs.
	URLPattern string `yaml:"url_pattern"`

	// IDPattern matches bare identifiers (default: digits only).
	IDPattern string `yaml:"id_pattern,omitempty"`

	// IDExtract finds the canonical ID inside a full URL (default: first
	// digit run). The first capture group is used when present.
	IDExtract string `yaml:"id_extract,omitempty"`

	// ForbiddenSelector marks pages that exist but are not public.
	ForbiddenSelector string `yaml:"forbidden_selector,omitempty"`

	// OmitSourceFields drops the leading url and id fields.
	OmitSourceFields bool `yaml:"omit_source_fields,omitempty"`

	Fields []FieldSpec `yaml:"fields"`

	urlRe     *regexp.Regexp
	idRe      *regexp.Regexp
	idExtract *regexp.Regexp
}

// LoadProfile reads and compiles a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and compiles a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Compile validates the profile and compiles its patterns.
func (p *Profile) Compile() error {
	if p.Category == "" {
		return fmt.Errorf("profile: category is required")
	}
	if !strings.Contains(p.URLTemplate, idPlaceholder) {
		return fmt.Errorf("profile %s: url_template must contain %s", p.Category, idPlaceholder)
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("profile %s: at least one field is required", p.Category)
	}

	var err error
	if p.URLPattern != "" {
		if p.urlRe, err = regexp.Compile(p.URLPattern); err != nil {
			return fmt.Errorf("profile %s: url_pattern: %w", p.Category, err)
		}
	}
	if p.IDPattern == "" {
		p.IDPattern = defaultIDPattern
	}
	if p.idRe, err = regexp.Compile(p.IDPattern); err != nil {
		return fmt.Errorf("profile %s: id_pattern: %w", p.Category, err)
	}
	if p.IDExtract == "" {
		p.IDExtract = defaultIDExtract
	}
	if p.idExtract, err = regexp.Compile(p.IDExtract); err != nil {
		return fmt.Errorf("profile %s: id_extract: %w", p.Category, err)
	}

	seen := make(map[string]bool, len(p.Fields))
	for i := range p.Fields {
		f := &p.Fields[i]
		if f.Name == "" || f.Selector == "" {
			return fmt.Errorf("profile %s: field %d needs name and selector", p.Category, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("profile %s: duplicate field %q", p.Category, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case "":
			f.Type = TypeString
		case TypeString, TypeInt, TypeFloat, TypeList:
		default:
			return fmt.Errorf("profile %s: field %q has unknown type %q", p.Category, f.Name, f.Type)
		}
		if f.Pattern != "" {
			if f.pattern, err = regexp.Compile(f.Pattern); err != nil {
				return fmt.Errorf("profile %s: field %q pattern: %w", p.Category, f.Name, err)
			}
		}
	}
	return nil
}

// Resolve turns a raw identifier (full URL or bare ID) into a canonical
// URL and ID.
func (p *Profile) Resolve(identifier string) (url, id string, err error) {
	raw := strings.TrimSpace(identifier)
	if raw == "" {
		return "", "", &FetchError{Class: ErrorClassInvalidIdentifier, Message: "empty identifier"}
	}

	if p.urlRe != nil && p.urlRe.MatchString(raw) {
		m := p.idExtract.FindStringSubmatch(raw)
		switch {
		case m == nil:
			return raw, "", nil
		case len(m) > 1:
			return raw, m[1], nil
		default:
			return raw, m[0], nil
		}
	}

	if p.idRe.MatchString(raw) {
		return strings.ReplaceAll(p.URLTemplate, idPlaceholder, raw), raw, nil
	}

	return "", "", &FetchError{
		Identifier: identifier,
		Class:      ErrorClassInvalidIdentifier,
		Message:    fmt.Sprintf("%s identifier must be a full URL or an identification number", p.Category),
	}
}

// Extract parses an HTML page into a record.
func (p *Profile) Extract(identifier, url, id string, body []byte) (*record.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Identifier: identifier, Class: ErrorClassExtract, Message: "parse html", Err: err}
	}

	if p.ForbiddenSelector != "" && doc.Find(p.ForbiddenSelector).Length() > 0 {
		return nil, &FetchError{Identifier: identifier, Class: ErrorClassForbidden, Message: "page is not public"}
	}

	fields := make([]record.Field, 0, len(p.Fields)+2)
	if !p.OmitSourceFields {
		fields = append(fields, record.F("url", url), record.F("id", id))
	}

	for _, spec := range p.Fields {
		v := spec.extract(doc.Selection)
		if spec.Required && !v.IsPresent() {
			return nil, &FetchError{
				Identifier: identifier,
				Class:      ErrorClassExtract,
				Message:    fmt.Sprintf("required field %q not found", spec.Name),
			}
		}
		fields = append(fields, record.Field{Name: spec.Name, Value: v})
	}

	return record.New(identifier, fields...), nil
}

func (f FieldSpec) extract(root *goquery.Selection) record.Value {
	sel := root.Find(f.Selector)
	if sel.Length() == 0 {
		return record.None()
	}

	if f.Type == TypeList {
		var items []string
		sel.Each(func(_ int, s *goquery.Selection) {
			if text, ok := f.text(s); ok {
				items = append(items, text)
			}
		})
		if len(items) == 0 {
			return record.None()
		}
		return record.Some(items)
	}

	text, ok := f.text(sel.First())
	if !ok {
		return record.None()
	}

	switch f.Type {
	case TypeInt:
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, text)
		n, err := strconv.Atoi(digits)
		if err != nil {
			return record.None()
		}
		return record.Some(n)
	case TypeFloat:
		num := numberRe.FindString(text)
		x, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return record.None()
		}
		return record.Some(x)
	default:
		return record.Some(text)
	}
}

// text returns the cleaned text (or attribute) of s after the optional pattern.
func (f FieldSpec) text(s *goquery.Selection) (string, bool) {
	var raw string
	if f.Attr != "" {
		v, ok := s.Attr(f.Attr)
		if !ok {
			return "", false
		}
		raw = v
	} else {
		raw = s.Text()
	}

	text := strings.TrimSpace(whitespaceRe.ReplaceAllString(raw, " "))
	if f.pattern != nil {
		m := f.pattern.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		text = m[0]
		if len(m) > 1 {
			text = m[1]
		}
	}
	if text == "" {
		return "", false
	}
	return text, true
}
