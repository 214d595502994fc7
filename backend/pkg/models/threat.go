package models

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a curated attack example
type Category string

const (
	CategoryInjection         Category = "injection"
	CategoryJailbreak         Category = "jailbreak"
	CategorySocialEngineering Category = "social_engineering"
	CategorySystemPrompt      Category = "system_prompt"
	CategoryMalicious         Category = "malicious"
	CategoryGeneral           Category = "general"
)

// Severity ranks how dangerous an attack example is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Defaults applied by the admin insert path when fields are omitted
const (
	DefaultCategory    = CategoryGeneral
	DefaultSeverity    = SeverityMedium
	DefaultDescription = "Prompt injection example"
)

// ParseCategory normalises s into a known Category. Empty input yields the default.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case "":
		return DefaultCategory, nil
	case CategoryInjection, CategoryJailbreak, CategorySocialEngineering,
		CategorySystemPrompt, CategoryMalicious, CategoryGeneral:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// ParseSeverity normalises s into a known Severity. Empty input yields the default.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case "":
		return DefaultSeverity, nil
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return v, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// ThreatExample is one curated attack example held by the similarity index.
// Stored examples are immutable; they can only be deleted.
type ThreatExample struct {
	ID          string    `json:"id" yaml:"id"`
	Text        string    `json:"text" yaml:"example"`
	Category    Category  `json:"category" yaml:"category"`
	Severity    Severity  `json:"severity" yaml:"severity"`
	Description string    `json:"description" yaml:"description"`
	Source      string    `json:"source,omitempty" yaml:"source,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
}

// Validate checks the example is storable
func (e *ThreatExample) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("threat example id cannot be empty")
	}
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("threat example text cannot be empty")
	}
	if _, err := ParseCategory(string(e.Category)); err != nil {
		return err
	}
	if _, err := ParseSeverity(string(e.Severity)); err != nil {
		return err
	}
	return nil
}

// Metadata flattens the example's descriptive fields for a vector store payload
func (e *ThreatExample) Metadata() map[string]any {
	md := map[string]any{
		"id":          e.ID,
		"category":    string(e.Category),
		"severity":    string(e.Severity),
		"description": e.Description,
		"dateAdded":   e.CreatedAt.UTC().Format(time.RFC3339),
		"type":        "prompt_injection",
	}
	if e.Source != "" {
		md["source"] = e.Source
	}
	return md
}

// ThreatExampleFromMetadata rebuilds an example from a stored payload
func ThreatExampleFromMetadata(id, text string, md map[string]any) ThreatExample {
	ex := ThreatExample{ID: id, Text: text}
	if v, ok := md["category"].(string); ok {
		ex.Category = Category(v)
	}
	if v, ok := md["severity"].(string); ok {
		ex.Severity = Severity(v)
	}
	if v, ok := md["description"].(string); ok {
		ex.Description = v
	}
	if v, ok := md["source"].(string); ok {
		ex.Source = v
	}
	if v, ok := md["dateAdded"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			ex.CreatedAt = t
		}
	}
	return ex
}
