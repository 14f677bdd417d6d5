package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDirectory(t *testing.T) {
	base := t.TempDir()
	safe := filepath.Join(base, "safe")
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	link := filepath.Join(safe, "link")
	require.NoError(t, os.Symlink(outside, link))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "copy.db"), false},
		{"missing nested dir", filepath.Join(safe, "a", "b", "frames.json"), false},
		{"dot dot escape", filepath.Join(safe, "..", "copy.db"), true},
		{"sibling dir", filepath.Join(outside, "copy.db"), true},
		{"through symlink", filepath.Join(link, "copy.db"), true},
		{"symlink itself", link, true},
		{"system file", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDirectory(tt.path, safe)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	assert.NoError(t, ValidateOutputPath(filepath.Join(t.TempDir(), "backup.db")))
	assert.NoError(t, ValidateOutputPath("frames.json"))

	extra := t.TempDir()
	assert.NoError(t, ValidateOutputPath(filepath.Join(extra, "x.db"), "", extra))

	assert.Error(t, ValidateOutputPath("/etc/beacon-locator-backup.db"))
}
