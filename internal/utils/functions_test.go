package utils

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "video.mp4")
	assert.Equal(t, filepath.Join(dir, "video-(1).mp4"), RenewOutputPath(target))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "video-(1).mp4"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video-(2).mp4"), nil, 0644))
	assert.Equal(t, filepath.Join(dir, "video-(3).mp4"), RenewOutputPath(target))

	assert.Equal(t, filepath.Join(dir, "README-(1)"), RenewOutputPath(filepath.Join(dir, "README")))
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{
		"Authorization: Bearer abc:def",
		"  X-Trace :  42 ",
		"no-colon",
	})
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer abc:def",
		"X-Trace":       "42",
	}, got)
}

func TestFileNameFromDisposition(t *testing.T) {
	tests := []struct{ header, want string }{
		{"", ""},
		{"inline", ""},
		{`attachment; filename="report.pdf"`, "report.pdf"},
		{`attachment; filename="../../etc/passwd"`, ".._.._etc_passwd"},
		{`attachment; filename*=UTF-8''na%C3%AFve.txt`, "na_ve.txt"},
		{`attachment; filename="fallback.txt"; filename*=UTF-8''real%20name.txt`, "real name.txt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileNameFromDisposition(tt.header), tt.header)
	}
}

func TestFileNameFromLocator(t *testing.T) {
	assert.Equal(t, "archive.tar.gz", FileNameFromLocator("https://example.com/files/archive.tar.gz?sig=abc"))
	assert.Equal(t, "clip.mp4", FileNameFromLocator("s3://media/videos/clip.mp4"))
	assert.Equal(t, "download", FileNameFromLocator("https://example.com/"))
	assert.Equal(t, "download", FileNameFromLocator("https://example.com"))
}

func TestCleanArtifact(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, ".parcel-temp")
	require.NoError(t, os.MkdirAll(temp, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(temp, "a.bin.part"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(temp, "b.bin.part"), []byte("y"), 0644))

	require.NoError(t, CleanArtifact(filepath.Join(dir, "a.bin"), ".parcel-temp"))
	assert.NoFileExists(t, filepath.Join(temp, "a.bin.part"))
	assert.FileExists(t, filepath.Join(temp, "b.bin.part"))

	require.NoError(t, CleanArtifact(filepath.Join(dir, "b.bin"), ".parcel-temp"))
	assert.NoDirExists(t, temp)

	assert.NoError(t, CleanArtifact(filepath.Join(dir, "c.bin"), ".parcel-temp"))
}

func TestCleanTemp(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, ".parcel-temp")
	require.NoError(t, os.MkdirAll(temp, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(temp, "a.bin.part"), []byte("x"), 0644))

	require.NoError(t, CleanTemp(dir, ".parcel-temp"))
	assert.NoDirExists(t, temp)
	assert.NoError(t, CleanTemp(dir, ".parcel-temp"))
}

func TestHTTPClientSetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := NewParcelHTTPClient(HTTPClientConfig{
		Headers:     map[string]string{"X-Team": "infra"},
		BearerToken: "tok123",
	})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, ToolUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "infra", got.Get("X-Team"))
	assert.Equal(t, "Bearer tok123", got.Get("Authorization"))
}

func TestRandomUserAgent(t *testing.T) {
	assert.Contains(t, userAgents, GetRandomUserAgent())
}
