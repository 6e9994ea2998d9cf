package selector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		sel  Selector
		link int
		path string
		want string
	}{
		{"root", GoogleDrive, 12, "", "drive-12"},
		{"opaque id", GoogleDrive, 12, "1AbC-xyz_9", "drive-12-1AbC-xyz_9"},
		{"nested path", Dropbox, 3, "/Docs/Q1/report.docx", "dropbox-3-|Docs|Q1|report.docx"},
		{"pipe in name", WebDav, 7, "/a|b", "webdav-7-|a%7Cb"},
		{"percent in name", WebDav, 7, "/100%/x", "webdav-7-|100%25|x"},
		{"dashes in path", Box, 45, "a-b-c", "box-45-a-b-c"},
		{"unicode", OneDrive, 9, "/Отчёт/файл.txt", "onedrive-9-|Отчёт|файл.txt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			encoded := Encode(tc.sel, tc.link, tc.path)
			assert.Equal(t, tc.want, encoded)

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.sel, decoded.Selector)
			assert.Equal(t, tc.link, decoded.LinkID)
			assert.Equal(t, tc.path, decoded.Path)
			assert.Equal(t, encoded, decoded.String())
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"",
		"drive",
		"drive-",
		"drive-abc",
		"drive-012",
		"drive-+5",
		"drive-12-",
		"gdrive-12-x",
		"webdav-7-%7c",
		"webdav-7-%2",
		"webdav-7-%41",
		"42",
	} {
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(raw)
			require.Error(t, err)

			var formatErr *model.FormatError
			assert.True(t, errors.As(err, &formatErr))
			assert.ErrorIs(t, err, model.ErrInvalidInput)
		})
	}
}

func TestIsOwnedBy(t *testing.T) {
	t.Parallel()

	assert.True(t, IsOwnedBy("dropbox-3-|a", Dropbox))
	assert.False(t, IsOwnedBy("dropbox-3-|a", GoogleDrive))
	assert.False(t, IsOwnedBy("17", Dropbox))
	assert.True(t, IsThirdParty("spoint-2"))
	assert.False(t, IsThirdParty("17"))
}

func TestSelectorProviderMapping(t *testing.T) {
	t.Parallel()

	for _, p := range []model.ProviderType{
		model.ProviderBox, model.ProviderDropbox, model.ProviderGoogleDrive,
		model.ProviderOneDrive, model.ProviderSharePoint, model.ProviderWebDav,
	} {
		sel, ok := For(p)
		require.True(t, ok, p)
		assert.Equal(t, p, sel.Provider())
	}
}

func TestIDChild(t *testing.T) {
	t.Parallel()

	root, err := Decode("dropbox-3")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	child := root.Child("/x/y.txt")
	assert.Equal(t, "dropbox-3-|x|y.txt", child.String())
	assert.False(t, child.IsRoot())
}
