package hwdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	db, err := Load()
	require.NoError(t, err)

	tests := []struct {
		model string
		want  string
	}{
		{"Intel Pentium II (Deschutes)", "classic"},
		{"AMD-K6(tm) 3D processor", "classic"},
		{"PowerPC G4 (7450)", "classic"},
		{"Intel(R) Pentium(R) 4 CPU 2.80GHz", "vintage"},
		{"AMD Athlon 64 X2 Dual Core 4200+", "vintage"},
		{"Genuine Intel(R) CPU T2300 (Core Duo)", "vintage"},
		{"Intel Core 2 Duo E8400", "heritage"},
		{"AMD Phenom(tm) II X4 955", "heritage"},
		{"Intel(R) Core(TM) i7-9700K CPU @ 3.60GHz", "modern"},
		{"AMD Ryzen 9 5950X 16-Core Processor", "modern"},
		{"Apple M2 Pro", "modern"},
		{"Some Unknown CPU", "modern"},
		{"", "modern"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, db.Classify(tt.model))
		})
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	db, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "vintage", db.Classify("INTEL PENTIUM 4"))
	assert.Equal(t, "classic", db.Classify("pentium iii coppermine"))
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// "pentium ii" is a substring of "pentium iii"; both land on classic,
	// but the classic block must be consulted before vintage so a
	// Pentium III never falls through to the "pentium 4" era.
	db, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "classic", db.Classify("Pentium III"))
}

func TestTierFor(t *testing.T) {
	db, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "classic", db.TierFor("classic"))
	assert.Equal(t, "modern", db.TierFor("modern"))
	assert.Equal(t, DefaultClass, db.TierFor("no-such-class"))
}

func TestMultiplier(t *testing.T) {
	db, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2.5, db.Multiplier("classic"))
	assert.Equal(t, 2.0, db.Multiplier("vintage"))
	assert.Equal(t, 1.5, db.Multiplier("heritage"))
	assert.Equal(t, 1.0, db.Multiplier("modern"))
	assert.Equal(t, 1.0, db.Multiplier("unknown-tier"))
}

func TestClasses_TableOrder(t *testing.T) {
	db, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"classic", "vintage", "heritage", "modern"}, db.Classes())
}

func TestLoadFile_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classes.yaml")
	data := []byte(`
classes:
  - class: lab
    tier: lab
    patterns: ["testbench"]
tiers:
  lab: 9.0
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	db, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", db.Classify("Testbench CPU rev 3"))
	assert.Equal(t, 9.0, db.Multiplier("lab"))
	assert.Equal(t, DefaultClass, db.Classify("ryzen"), "override replaces the table")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	_, err := parse([]byte("classes: []\n"))
	require.Error(t, err)
}
