package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/npy"
	"github.com/ayusman/mudra/internal/report"
	"github.com/ayusman/mudra/internal/vector"
)

// =============================================================================
// Helpers
// =============================================================================

// execute runs the root command with args against root and returns stdout.
func execute(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()

	rootDir, configPath, logLevel, logFormat = ".", "", "", ""
	outputJSON, inspectFrame = false, -1
	importLabel, importThreshold, importTree = "", -1, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--root", root, "--log-level", "error"}, args...))
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

// seed persists one batch per label under root, with summary and report.
func seed(t *testing.T, root string, labels ...string) []dataset.Entry {
	t.Helper()

	cfg := config.Default(root)
	index, err := dataset.Open(cfg.DatasetPaths(), logging.Discard())
	require.NoError(t, err)
	writer, err := dataset.NewWriter(index, dataset.CompressionNone, logging.Discard())
	require.NoError(t, err)
	reports := report.NewWriter(logging.Discard())

	layout := vector.DefaultLayout()
	var entries []dataset.Entry
	for _, label := range labels {
		batch := npy.NewBatch(layout.Len())
		for r := 0; r < 3; r++ {
			row := make([]float64, layout.Len())
			for i := 0; i < layout.HandLen(); i++ {
				row[i] = float64(r+1) * 0.01
			}
			require.NoError(t, batch.Append(row))
		}

		entry, err := writer.Persist(label, batch, func(e dataset.Entry, a dataset.Artifacts) error {
			rep, err := report.Summarize(batch, layout)
			if err != nil {
				return err
			}
			return reports.Write(e, a, rep)
		})
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}

// =============================================================================
// Command Definitions
// =============================================================================

func TestRootCmd_Definition(t *testing.T) {
	t.Run("has subcommands", func(t *testing.T) {
		names := make(map[string]bool)
		for _, c := range rootCmd.Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"collect", "list", "delete", "analyze", "inspect", "import", "serve"} {
			assert.True(t, names[want], "missing subcommand %s", want)
		}
	})

	t.Run("has persistent flags", func(t *testing.T) {
		for _, name := range []string{"root", "config", "log-level", "log-format"} {
			assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing flag --%s", name)
		}
	})

	t.Run("inspect takes one index", func(t *testing.T) {
		assert.Error(t, inspectCmd.Args(inspectCmd, nil))
		assert.NoError(t, inspectCmd.Args(inspectCmd, []string{"0"}))
	})
}

// =============================================================================
// Dataset Commands
// =============================================================================

func TestList(t *testing.T) {
	t.Run("empty dataset", func(t *testing.T) {
		out, err := execute(t, t.TempDir(), "list")
		require.NoError(t, err)
		assert.Contains(t, out, "No entries.")
	})

	t.Run("marks missing batches", func(t *testing.T) {
		root := t.TempDir()
		entries := seed(t, root, "hello", "namaste")
		require.NoError(t, os.Remove(filepath.Join(root, filepath.FromSlash(entries[0].Filename))))

		out, err := execute(t, root, "list")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "[0] hello")
		assert.Contains(t, lines[0], "[missing]")
		assert.Contains(t, lines[1], "[1] namaste")
		assert.NotContains(t, lines[1], "[missing]")
	})

	t.Run("json output", func(t *testing.T) {
		root := t.TempDir()
		seed(t, root, "hello")

		out, err := execute(t, root, "list", "--json")
		require.NoError(t, err)

		var listed []listedEntry
		require.NoError(t, json.Unmarshal([]byte(out), &listed))
		require.Len(t, listed, 1)
		assert.Equal(t, "hello", listed[0].Label)
		assert.False(t, listed[0].Missing)
	})
}

func TestDelete(t *testing.T) {
	root := t.TempDir()
	entries := seed(t, root, "hello", "namaste", "pranam")

	out, err := execute(t, root, "delete", "0,2", "7")
	require.NoError(t, err)

	assert.Contains(t, out, "[2] "+entries[2].Filename)
	assert.Contains(t, out, "[0] "+entries[0].Filename)
	assert.Contains(t, out, "[7] out of range")
	assert.Equal(t, 6, strings.Count(out, "removed"), "expected three artifacts per entry")

	cfg := config.Default(root)
	index, err := dataset.Open(cfg.DatasetPaths(), logging.Discard())
	require.NoError(t, err)
	remaining, err := index.List()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "namaste", remaining[0].Label)

	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(entries[0].Filename)))
	assert.True(t, os.IsNotExist(err))
}

func TestDelete_InvalidIndices(t *testing.T) {
	_, err := execute(t, t.TempDir(), "delete", "x")
	assert.Error(t, err)
}

func TestDelete_NothingSelected(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "hello")

	out, err := execute(t, root, "delete")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing deleted.")
}

func TestAnalyze(t *testing.T) {
	root := t.TempDir()
	entries := seed(t, root, "hello", "namaste")
	require.NoError(t, os.Remove(filepath.Join(root, filepath.FromSlash(entries[1].Filename))))

	out, err := execute(t, root, "analyze")
	require.NoError(t, err)
	assert.Contains(t, out, "1 analyzed, 1 failed")
}

func TestInspect(t *testing.T) {
	root := t.TempDir()
	entries := seed(t, root, "hello")

	t.Run("report", func(t *testing.T) {
		out, err := execute(t, root, "inspect", "0")
		require.NoError(t, err)
		assert.Contains(t, out, entries[0].Filename)
		assert.Contains(t, out, "samples        3")
	})

	t.Run("report json", func(t *testing.T) {
		out, err := execute(t, root, "inspect", "0", "--json")
		require.NoError(t, err)

		var rec report.Record
		require.NoError(t, json.Unmarshal([]byte(out), &rec))
		assert.Equal(t, 3, rec.NumSamples)
		assert.Equal(t, 2, rec.FluiditySeriesLen)
	})

	t.Run("frame", func(t *testing.T) {
		out, err := execute(t, root, "inspect", "0", "--frame", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "frame 1/3")
		assert.Contains(t, out, "Right wrist")
	})

	t.Run("frame out of range", func(t *testing.T) {
		_, err := execute(t, root, "inspect", "0", "--frame", "9")
		assert.Error(t, err)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := execute(t, root, "inspect", "4")
		assert.Error(t, err)
	})
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	rootDir, configPath, logLevel, logFormat = t.TempDir(), "", "debug", "json"
	t.Cleanup(func() { rootDir, logLevel, logFormat = ".", "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, filepath.IsAbs(cfg.Root))

	logLevel = "loud"
	_, err = loadConfig()
	assert.ErrorIs(t, err, logging.ErrInvalidConfig)
}

func TestImport_TreeRejectsLabel(t *testing.T) {
	_, err := execute(t, t.TempDir(), "import", "--tree", "--label", "x", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tree")
}
