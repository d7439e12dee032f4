package stories

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog_seed.yaml
var defaultSeed []byte

type Seed struct {
	Themes    []SeedTheme    `yaml:"themes"`
	Languages []SeedLanguage `yaml:"languages"`
	Tones     []SeedTone     `yaml:"tones"`
}

type SeedTheme struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type SeedLanguage struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

type SeedTone struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// DefaultSeed returns the catalog shipped with the binary.
func DefaultSeed() (Seed, error) {
	return ParseSeed(bytes.NewReader(defaultSeed))
}

// LoadSeedFile reads a catalog override from disk.
func LoadSeedFile(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, fmt.Errorf("open catalog seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

func ParseSeed(r io.Reader) (Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Seed{}, fmt.Errorf("decode catalog seed: %w", err)
	}
	for i, t := range s.Themes {
		if strings.TrimSpace(t.Name) == "" {
			return Seed{}, fmt.Errorf("catalog seed: theme %d has no name", i)
		}
	}
	for i, l := range s.Languages {
		if strings.TrimSpace(l.Code) == "" || strings.TrimSpace(l.Name) == "" {
			return Seed{}, fmt.Errorf("catalog seed: language %d needs name and code", i)
		}
	}
	for i, t := range s.Tones {
		if strings.TrimSpace(t.Name) == "" {
			return Seed{}, fmt.Errorf("catalog seed: tone %d has no name", i)
		}
	}
	return s, nil
}
