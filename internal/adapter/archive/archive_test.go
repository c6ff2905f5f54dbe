package archive

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPut_CopiesFileAndReturnsURI(t *testing.T) {
	ctx := context.Background()
	bucketDir := t.TempDir()
	a, err := Open(ctx, "file://"+bucketDir, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	src := filepath.Join(t.TempDir(), "S_NWC_CMA_noaa19_46878_20240426T1200123Z_20240426T1214456Z.nc")
	require.NoError(t, os.WriteFile(src, []byte("cloudmask"), 0o644))

	uri, err := a.Put(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(bucketDir, filepath.Base(src))), uri)

	got, err := os.ReadFile(filepath.Join(bucketDir, filepath.Base(src)))
	require.NoError(t, err)
	assert.Equal(t, "cloudmask", string(got))

	ok, err := a.bucket.Exists(ctx, filepath.Base(src))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPut_KeepsExistingCopyOfSameSize(t *testing.T) {
	ctx := context.Background()
	bucketDir := t.TempDir()
	a, err := Open(ctx, "file://"+bucketDir, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	name := "S_NWC_CMA_noaa19_46878_20240426T1200123Z_20240426T1214456Z.nc"
	src := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(src, []byte("cloudmask"), 0o644))
	_, err = a.Put(ctx, src)
	require.NoError(t, err)

	// Same size: the archived copy is left alone.
	require.NoError(t, os.WriteFile(src, []byte("CLOUDMASK"), 0o644))
	_, err = a.Put(ctx, src)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(bucketDir, name))
	require.NoError(t, err)
	assert.Equal(t, "cloudmask", string(got))

	// Different size: uploaded again.
	require.NoError(t, os.WriteFile(src, []byte("cloudmask v2"), 0o644))
	_, err = a.Put(ctx, src)
	require.NoError(t, err)
	got, err = os.ReadFile(filepath.Join(bucketDir, name))
	require.NoError(t, err)
	assert.Equal(t, "cloudmask v2", string(got))
}

func TestPutAll_StopsAtMissingFile(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, "file://"+t.TempDir(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	dir := t.TempDir()
	first := filepath.Join(dir, "S_NWC_CT_noaa19_46878_20240426T1200123Z_20240426T1214456Z.nc")
	require.NoError(t, os.WriteFile(first, []byte("ct"), 0o644))
	missing := filepath.Join(dir, "S_NWC_CTTH_noaa19_46878_20240426T1200123Z_20240426T1214456Z.nc")

	uris, err := a.PutAll(ctx, []string{first, missing})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, uris, first)
	assert.NotContains(t, uris, missing)
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "bogus://bucket", discardLogger())
	assert.Error(t, err)
}

func TestURI_JoinsBucketAndKey(t *testing.T) {
	a := &Archive{}
	a.base.Scheme = "s3"
	a.base.Host = "pps-results"
	assert.Equal(t, "s3://pps-results/S_NWC_CMA.nc", a.uri("S_NWC_CMA.nc"))
}
