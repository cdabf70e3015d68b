package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "permitcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t,
		"https://esploradati.istat.it/SDMXWS/rest/data/IT1,111_111_DF_DCSC_PERM_RAP1_1,1.0/all/ALL/?detail=full&dimensionAtObservation=TIME_PERIOD&endPeriod=2024-12-31&startPeriod=2023-09-01",
		cfg.Source.Location())
	assert.Equal(t, "ADJUSTMENT=N,DATA_TYPE=NUMDW", cfg.Filter().String())
}

func TestLoad_NoPath(t *testing.T) {
	t.Setenv(openAIKeyEnv, "")
	t.Setenv(sourceURLEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Dataset, cfg.Dataset)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv(openAIKeyEnv, "sk-test")
	t.Setenv(sourceURLEnv, "")

	path := writeConfig(t, `
dataset: permits-2025
source:
  startPeriod: 2024-Q1
  filter:
    DATA_TYPE: SURF
  refreshInterval: 12h
evaluation:
  horizon: 3
  forecasts:
    prophet: forecasted_permits_2024.csv
narrative:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "permits-2025", cfg.Dataset)
	assert.Equal(t, "2024-Q1", cfg.Source.StartPeriod)
	assert.Equal(t, "2024-12-31", cfg.Source.EndPeriod, "unset fields keep defaults")
	assert.Equal(t, map[string]string{"DATA_TYPE": "SURF"}, cfg.Source.Filter, "filter replaces the default")
	assert.Equal(t, 12*time.Hour, cfg.Source.RefreshInterval)
	assert.Equal(t, 3, cfg.Evaluation.Horizon)
	assert.Equal(t, "forecasted_permits_2024.csv", cfg.Evaluation.Forecasts["prophet"])
	assert.True(t, cfg.Narrative.Enabled)
	assert.Equal(t, "gpt-4o-mini", cfg.Narrative.Model)
	assert.Equal(t, "sk-test", cfg.Narrative.APIKey)
}

func TestLoad_SourceURLOverride(t *testing.T) {
	t.Setenv(sourceURLEnv, "ftp://ftp.example.org/permits.xml")

	path := writeConfig(t, "source:\n  baseUrl: \"\"\n  flow: \"\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ftp://ftp.example.org/permits.xml", cfg.Source.Location())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv(sourceURLEnv, "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing dataset", "dataset: \"\"\n", "dataset"},
		{"bad period", "source:\n  startPeriod: last-year\n", "startPeriod"},
		{"negative horizon", "evaluation:\n  horizon: -1\n", "horizon"},
		{"no source", "source:\n  baseUrl: \"\"\n", "baseUrl"},
		{"bad addr", "server:\n  addr: nowhere\n", "addr"},
		{"empty forecast path", "evaluation:\n  forecasts:\n    prophet: \"\"\n", "forecasts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "dataset: [unclosed\n"))
	assert.ErrorContains(t, err, "parse config")
}
