package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

const usersDump = "CREATE TABLE `buyers` (`id` int, `first_name` varchar(50), `last_name` varchar(50), " +
	"`email` varchar(100), `phone` varchar(20), `is_active` tinyint(1), `deleted_at` datetime, " +
	"`created_at` datetime, `updated_at` datetime);\n" +
	"INSERT INTO `buyers` VALUES (1,'Ann','Lee','ann@example.com',NULL,1,NULL,'2023-01-01 10:00:00',NULL);\n" +
	"CREATE TABLE `stylists` (`id` int, `business_name` varchar(100), `first_name` varchar(50), " +
	"`last_name` varchar(50), `email` varchar(100), `phone` varchar(20), `bio` text, `is_verified` tinyint(1), " +
	"`is_active` tinyint(1), `deleted_at` datetime, `created_at` datetime, `updated_at` datetime);\n" +
	"INSERT INTO `stylists` VALUES (7,'Cuts','Cat','Smith','cat@example.com',NULL,NULL,1,1,NULL,'2023-01-01 09:00:00',NULL);\n"

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "legacy.sql")
	require.NoError(t, os.WriteFile(dumpPath, []byte(usersDump), 0644))

	out := filepath.Join(dir, "out")
	cfg := "dump:\n  path: " + dumpPath + "\n" +
		"destination:\n  driver: memory\n" +
		"geocoding:\n  enabled: false\n" +
		"logger:\n  level: error\n" +
		"output:\n  directory: " + out + "\n"
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))
	return cfgPath, out
}

func TestPhasesFor(t *testing.T) {
	assert.Equal(t, pipeline.AllPhases, phasesFor(nil, false))
	assert.Equal(t, []pipeline.Phase{pipeline.PhaseExtract, pipeline.PhaseCreate}, phasesFor(nil, true))

	only := []pipeline.Phase{pipeline.PhaseValidate}
	assert.Equal(t, only, phasesFor(only, true))
}

func TestRunUsersInMemory(t *testing.T) {
	cfgPath, out := writeConfig(t)

	code, err := run(context.Background(), options{configPath: cfgPath, entities: []string{"users"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ExitOK, code)

	data, err := os.ReadFile(filepath.Join(out, "migration_report.json"))
	require.NoError(t, err)
	var report pipeline.RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Summary.Created)

	assert.FileExists(t, filepath.Join(out, "mappings", "buyers_mapping.json"))
	assert.FileExists(t, filepath.Join(out, "checkpoints", "users_extract.json"))
}

func TestDryRunKeepsSeparateOutput(t *testing.T) {
	cfgPath, out := writeConfig(t)

	code, err := run(context.Background(), options{configPath: cfgPath, entities: []string{"users"}, dryRun: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ExitOK, code)

	assert.FileExists(t, filepath.Join(out, "dry_run", "migration_report.json"))
	assert.NoFileExists(t, filepath.Join(out, "mappings", "buyers_mapping.json"))
}

func TestRunFailsOnMissingDump(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "dump:\n  path: " + filepath.Join(dir, "absent.sql") + "\n" +
		"destination:\n  driver: memory\n" +
		"output:\n  directory: " + filepath.Join(dir, "out") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	code, err := run(context.Background(), options{configPath: cfgPath}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.ExitFatal, code)
}

func TestRunReadsBackslashEscapedDump(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "legacy.sql")
	escaped := strings.Replace(usersDump, "'Ann'", `'O\'Ann'`, 1)
	require.NoError(t, os.WriteFile(dumpPath, []byte(escaped), 0644))

	out := filepath.Join(dir, "out")
	cfg := "dump:\n  path: " + dumpPath + "\n  backslash_escapes: true\n" +
		"destination:\n  driver: memory\n" +
		"geocoding:\n  enabled: false\n" +
		"logger:\n  level: error\n" +
		"output:\n  directory: " + out + "\n"
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	code, err := run(context.Background(), options{configPath: cfgPath, entities: []string{"users"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ExitOK, code)

	data, err := os.ReadFile(filepath.Join(out, "migration_report.json"))
	require.NoError(t, err)
	var report pipeline.RunReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 2, report.Summary.Created)
}
