//go:build linux

package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCacheSizeKB(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"32K", 32},
		{"1024K", 1024},
		{"8M", 8192},
		{"512", 512},
		{"", 0},
		{"junk", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseCacheSizeKB(tt.in), "size %q", tt.in)
	}
}
