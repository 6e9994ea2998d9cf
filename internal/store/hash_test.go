package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNested(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id, prefix string
		want       bool
	}{
		{"dropbox-3-|Docs", "dropbox-3-|Docs", true},
		{"dropbox-3-|Docs|a.txt", "dropbox-3-|Docs", true},
		{"dropbox-3-|Docs-old", "dropbox-3-|Docs", false},
		{"dropbox-3-|Docs", "dropbox-3", true},
		{"dropbox-31-|Docs", "dropbox-3", false},
		{"drive-12-1AbC", "drive-12", true},
		{"drive-12-1AbCd", "drive-12-1AbC", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsNested(tc.id, tc.prefix), "%s under %s", tc.id, tc.prefix)
	}
}

func TestHashIDStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, HashID("drive-1-x"), HashID("drive-1-x"))
	assert.NotEqual(t, HashID("drive-1-x"), HashID("drive-1-y"))
	assert.Len(t, HashID("drive-1-x"), 32)
}
