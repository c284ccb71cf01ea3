// Package hwdb maps CPU model strings to architecture classes and
// antiquity tiers. The table ships embedded; an external file can
// override it for field additions without a rebuild.
package hwdb

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed classes.yaml
var embeddedClasses []byte

// DefaultClass is returned when no pattern matches. Unknown parts are
// treated as modern: the least favorable tier, never a free bonus.
const DefaultClass = "modern"

type classEntry struct {
	Class    string   `yaml:"class"`
	Tier     string   `yaml:"tier"`
	Patterns []string `yaml:"patterns"`
}

type dbFile struct {
	Classes []classEntry       `yaml:"classes"`
	Tiers   map[string]float64 `yaml:"tiers"`
}

// DB is a loaded classification table.
type DB struct {
	classes []classEntry
	tiers   map[string]float64
	// class -> tier, precomputed
	classTier map[string]string
}

// Load parses the embedded table.
func Load() (*DB, error) {
	return parse(embeddedClasses)
}

// LoadFile parses a table from disk, for site-local overrides.
func LoadFile(path string) (*DB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hwdb: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*DB, error) {
	var f dbFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse hwdb: %w", err)
	}
	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("hwdb: no classes defined")
	}

	db := &DB{
		classes:   f.Classes,
		tiers:     f.Tiers,
		classTier: make(map[string]string, len(f.Classes)),
	}
	for _, e := range f.Classes {
		db.classTier[e.Class] = e.Tier
	}
	return db, nil
}

// Classify returns the architecture class for a CPU model string. First
// pattern match wins, case-insensitively.
func (db *DB) Classify(cpuModel string) string {
	model := strings.ToLower(cpuModel)
	for _, e := range db.classes {
		for _, pat := range e.Patterns {
			if strings.Contains(model, pat) {
				return e.Class
			}
		}
	}
	return DefaultClass
}

// TierFor returns the antiquity tier for an architecture class.
func (db *DB) TierFor(archClass string) string {
	if tier, ok := db.classTier[archClass]; ok {
		return tier
	}
	return DefaultClass
}

// Multiplier returns the informational confidence multiplier for a tier,
// defaulting to 1.0.
func (db *DB) Multiplier(tier string) float64 {
	if m, ok := db.tiers[tier]; ok {
		return m
	}
	return 1.0
}

// Classes returns the known class names in table order.
func (db *DB) Classes() []string {
	out := make([]string, 0, len(db.classes))
	for _, e := range db.classes {
		out = append(out, e.Class)
	}
	return out
}
