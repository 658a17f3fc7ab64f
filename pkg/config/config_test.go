package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.MinQueryTime)
	assert.Equal(t, "/tmp/xhprof/", cfg.LogLocation)
	assert.Equal(t, EmptyLogsSkip, cfg.EmptyLogs)
	assert.Equal(t, BackendFile, cfg.ProfilerLibPath)
	assert.Equal(t, "_http.log", cfg.HTTPLogSuffix)
	assert.Equal(t, "_db.log", cfg.DBLogSuffix)
	assert.Equal(t, "", cfg.CLIBaseLink)
	assert.Equal(t, "/xhprof/", cfg.RelativePath)
	assert.Equal(t, int64(64<<10), cfg.CaptureBodyLimit)
	assert.Equal(t, 10, cfg.RepeatedQueryThreshold)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CP_XHPROF_MIN_QUERY_TIME", "0.25")
	t.Setenv("CP_XHPROF_LOG_LOCATION", "/var/log/reqprof/")
	t.Setenv("CP_XHPROF_EMPTY_LOGS", "WRITE")
	t.Setenv("CP_XHPROF_DB_LOG_SUFFIX", ".sql.log")
	t.Setenv("CP_XHPROF_CLI_BASE_LINK", "http://localhost:8080")
	t.Setenv("CP_XHPROF_LIB_PATH", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.MinQueryTime)
	assert.Equal(t, "/var/log/reqprof/", cfg.LogLocation)
	assert.Equal(t, EmptyLogsWrite, cfg.EmptyLogs)
	assert.Equal(t, ".sql.log", cfg.DBLogSuffix)
	assert.Equal(t, "http://localhost:8080", cfg.CLIBaseLink)
	assert.Equal(t, BackendMemory, cfg.ProfilerLibPath)
}

func TestLoad_LegacyQueryTimeVariable(t *testing.T) {
	t.Setenv("CP_XHPROF_WPDB_MIN_QUERY_TIME", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.MinQueryTime)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reqprof.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_query_time: 0.02\nhttp_log_suffix: .http\nrelative_path: /profiles/\n"), 0o600))
	t.Setenv("CP_XHPROF_HTTP_LOG_SUFFIX", ".outbound")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.02, cfg.MinQueryTime)
	assert.Equal(t, ".outbound", cfg.HTTPLogSuffix, "environment should win over the file")
	assert.Equal(t, "/profiles/", cfg.RelativePath)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown empty logs policy", func(c *Config) { c.EmptyLogs = "sometimes" }},
		{"negative query time", func(c *Config) { c.MinQueryTime = -1 }},
		{"empty log location", func(c *Config) { c.LogLocation = "" }},
		{"relative viewer path", func(c *Config) { c.RelativePath = "xhprof/" }},
		{"unknown backend", func(c *Config) { c.ProfilerLibPath = "/var/xhprof/xhprof_lib/utils/xhprof_runs.php" }},
		{"negative body limit", func(c *Config) { c.CaptureBodyLimit = -1 }},
		{"negative repeated query threshold", func(c *Config) { c.RepeatedQueryThreshold = -1 }},
	}

	require.NoError(t, Default().Validate())

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestIsViewerPath(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.IsViewerPath("/xhprof/"))
	assert.True(t, cfg.IsViewerPath("/xhprof/index.php"))
	assert.True(t, cfg.IsViewerPath("/xhprof"))
	assert.False(t, cfg.IsViewerPath("/"))
	assert.False(t, cfg.IsViewerPath("/api/xhprof"))
}

func TestIsViewerRoute(t *testing.T) {
	testCases := []struct {
		relativePath string
		path         string
		want         bool
	}{
		{"/xhprof/", "/xhprof/", true},
		{"/xhprof/", "/xhprof", true},
		{"/xhprof/", "/xhprof/index.php", true},
		{"/xhprof/", "/xhprofile", false},
		{"/xhprof/", "/xhprofit/cart", false},
		{"/xhprof/", "/", false},
		{"/profiles", "/profiles/run", true},
		{"/profiles", "/profilesx", false},
		{"/", "/anything", false},
	}

	for _, tc := range testCases {
		t.Run(tc.relativePath+" "+tc.path, func(t *testing.T) {
			cfg := Default()
			cfg.RelativePath = tc.relativePath
			assert.Equal(t, tc.want, cfg.IsViewerRoute(tc.path))
		})
	}

	cfg := Default()
	assert.True(t, cfg.IsViewerPath("/xhprofile"), "the activation gate keeps the plain prefix match")
}
