package reconcile

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/guidereconciler/internal/testutil"
)

func stems(docs []DocumentRef) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Stem
	}
	return out
}

func TestListPDFs(t *testing.T) {
	t.Run("orders by stem length then name", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"Nfe_100_Guia.pdf", "B_Guia.pdf", "Nfe_2_Guia.pdf", "A_Guia.pdf", "Nfe_10_Guia.pdf"} {
			testutil.WriteFile(t, dir, name, []byte("x"))
		}

		docs, err := ListPDFs(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"A_Guia", "B_Guia", "Nfe_2_Guia", "Nfe_10_Guia", "Nfe_100_Guia"}, stems(docs))
		for _, d := range docs {
			assert.True(t, filepath.IsAbs(d.Path))
			assert.Equal(t, d.Stem+".pdf", d.Name())
		}
	})

	t.Run("ignores other extensions and directories", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "Keep_Guia.pdf", []byte("x"))
		testutil.WriteFile(t, dir, "notes.txt", []byte("x"))
		testutil.WriteFile(t, dir, "Upper_Guia.PDF", []byte("x"))
		testutil.WriteFile(t, dir, "pdf", []byte("x"))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "Folder_Guia.pdf"), 0o755))
		testutil.WriteFile(t, filepath.Join(dir, "nested"), "Deep_Guia.pdf", []byte("x"))

		docs, err := ListPDFs(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"Keep_Guia"}, stems(docs))
	})

	t.Run("empty directory is not an error", func(t *testing.T) {
		docs, err := ListPDFs(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("missing directory fails with discovery error", func(t *testing.T) {
		_, err := ListPDFs(filepath.Join(t.TempDir(), "missing"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDiscovery)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})
}
