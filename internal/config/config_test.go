package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, ":9090", c.Server.Listen)
	assert.Equal(t, 10*time.Second, c.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, c.Server.WriteTimeout)
	assert.Equal(t, int64(1<<20), c.Server.MaxQuerySize)
	assert.Equal(t, Log{Level: "info", Format: "json"}, c.Log)
	assert.Equal(t, Translate{CacheSize: 1024}, c.Translate)
	assert.Empty(t, c.Detector.RulesFile)
	assert.Empty(t, c.History.Path)
}

func TestLoad_File(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "polyql.toml"))
	require.NoError(t, err)

	assert.Equal(t, Server{
		Listen:       "127.0.0.1:8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		MaxQuerySize: 256 << 10,
	}, c.Server)
	assert.Equal(t, Log{Level: "debug", Format: "console"}, c.Log)
	assert.Equal(t, Translate{DefaultTarget: queryir.InfluxQL, CacheSize: 64}, c.Translate)
	assert.Equal(t, filepath.Join("testdata", "rules.cue"), c.Detector.RulesFile)
	assert.Equal(t, filepath.Join("testdata", "history.db"), c.History.Path)
}

func TestLoad_EmptyPath(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestLoad_KeepsAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polyql.toml")
	abs := filepath.Join(dir, "data", "h.db")
	require.NoError(t, os.WriteFile(path, []byte("[history]\npath = \""+filepath.ToSlash(abs)+"\"\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(abs), filepath.ToSlash(c.History.Path))
}

func TestParse_PartialFileKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("[log]\nlevel = \"warn\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, ":9090", c.Server.Listen)
}

func TestParse_ByteOrderMark(t *testing.T) {
	c, err := Parse([]byte("\ufeff[server]\nlisten = \":1\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":1", c.Server.Listen)
}

func TestParse_CompositeDurations(t *testing.T) {
	c, err := Parse([]byte("[server]\nread_timeout = \"1d2h\"\nwrite_timeout = \"500ms\"\n"))
	require.NoError(t, err)
	assert.Equal(t, 26*time.Hour, c.Server.ReadTimeout)
	assert.Equal(t, 500*time.Millisecond, c.Server.WriteTimeout)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"toml syntax", "[server\n"},
		{"unknown section", "[metrics]\nenabled = true\n"},
		{"unknown key", "[server]\nport = 80\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"bad format", "[log]\nformat = \"xml\"\n"},
		{"negative cache", "[translate]\ncache_size = -1\n"},
		{"wrong type", "[translate]\ncache_size = \"big\"\n"},
		{"empty listen", "[server]\nlisten = \"\"\n"},
		{"bad duration", "[server]\nread_timeout = \"soon\"\n"},
		{"bad size", "[server]\nmax_query_size = \"lots\"\n"},
		{"zero size", "[server]\nmax_query_size = \"0B\"\n"},
		{"unknown target", "[translate]\ndefault_target = \"cobol\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}
