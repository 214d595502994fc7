package similarity

import (
	"context"
	_ "embed"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/blackrose-blackhat/llm-guardrail/backend/pkg/models"
)

//go:embed seed.yaml
var defaultSeed []byte

// SeedSource marks examples that came from a seed file
const SeedSource = "seed_data"

type seedFile struct {
	Examples []models.ThreatExample `yaml:"examples"`
}

// LoadSeed reads seed examples from path, or the built-in corpus when path
// is empty. Missing ids become seed_<n> so reseeding overwrites rather than
// duplicates.
func LoadSeed(path string) ([]models.ThreatExample, error) {
	data := defaultSeed
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		data = b
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seed YAML document
func ParseSeed(data []byte) ([]models.ThreatExample, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed yaml: %w", err)
	}

	now := time.Now().UTC()
	out := make([]models.ThreatExample, 0, len(f.Examples))
	for i, ex := range f.Examples {
		if ex.ID == "" {
			ex.ID = fmt.Sprintf("seed_%d", i+1)
		}
		cat, err := models.ParseCategory(string(ex.Category))
		if err != nil {
			return nil, fmt.Errorf("seed example %d: %w", i+1, err)
		}
		sev, err := models.ParseSeverity(string(ex.Severity))
		if err != nil {
			return nil, fmt.Errorf("seed example %d: %w", i+1, err)
		}
		ex.Category, ex.Severity = cat, sev
		if ex.Description == "" {
			ex.Description = models.DefaultDescription
		}
		if ex.Source == "" {
			ex.Source = SeedSource
		}
		ex.CreatedAt = now
		if err := ex.Validate(); err != nil {
			return nil, fmt.Errorf("seed example %d: %w", i+1, err)
		}
		out = append(out, ex)
	}
	return out, nil
}

// Seed bootstraps the collection and writes examples
func Seed(ctx context.Context, ix *Index, examples []models.ThreatExample) error {
	if err := ix.Bootstrap(ctx); err != nil {
		return err
	}
	return ix.InsertBatch(ctx, examples)
}

// SeedIfEmpty seeds only when the collection holds no examples. It reports
// whether anything was written.
func SeedIfEmpty(ctx context.Context, ix *Index, examples []models.ThreatExample) (bool, error) {
	if err := ix.Bootstrap(ctx); err != nil {
		return false, err
	}
	n, err := ix.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	return true, ix.InsertBatch(ctx, examples)
}

// NewExampleID returns an id of the form injection_<unix ms>_<9 base36 chars>
func NewExampleID(now time.Time) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return fmt.Sprintf("injection_%d_%s", now.UnixMilli(), suffix[len(suffix)-9:])
}
