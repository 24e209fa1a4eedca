package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "1.0", "1.0", false},
		{"three segments", "2.31.0", "2.31.0", false},
		{"v prefix", "v1.2", "1.2", false},
		{"release candidate", "2.1.3rc1", "2.1.3rc1", false},
		{"alpha alias", "1.0alpha2", "1.0a2", false},
		{"beta", "1.0b1", "1.0b1", false},
		{"post release", "1.0.0.post1", "1.0.0.post1", false},
		{"dev release", "1.2.dev3", "1.2.dev3", false},
		{"whitespace", "  1.4 ", "1.4", false},
		{"empty", "", "", true},
		{"empty segment", "1..0", "", true},
		{"not a version", "latest", "", true},
		{"unknown marker", "1.0.snapshot1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "1.0", "1.0", 0},
		{"zero padding", "1.0", "1.0.0", 0},
		{"numeric not lexical", "0.9", "0.100", -1},
		{"major", "1.9", "2.0", -1},
		{"pre before final", "1.0rc1", "1.0", -1},
		{"alpha before beta", "1.0a1", "1.0b1", -1},
		{"beta before rc", "1.0b2", "1.0rc1", -1},
		{"pre number", "1.0rc1", "1.0rc2", -1},
		{"final before post", "1.0", "1.0.post1", -1},
		{"dev before pre", "1.0.dev1", "1.0rc1", -1},
		{"dev before final", "1.0.dev9", "1.0", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseVersion(tt.a)
			require.NoError(t, err)
			b, err := ParseVersion(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Compare(b))
			assert.Equal(t, -tt.want, b.Compare(a))
		})
	}
}

func TestNextPrefix(t *testing.T) {
	assert.Equal(t, "1.6", nextPrefix([]int{1, 5}).String())
	assert.Equal(t, "2", nextPrefix([]int{1}).String())
	assert.Equal(t, "0.120.1", nextPrefix([]int{0, 120, 0}).String())
}
