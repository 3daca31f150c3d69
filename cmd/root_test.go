package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/ingest"
	"github.com/sells-group/capture-cli/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"ingest", "discover", "score", "matches", "outcome", "drafts", "serve", "migrate", "config"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "capture-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range ingestCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"opportunities", "entities", "sync", "extract", "csv"} {
		assert.True(t, names[name], "expected ingest subcommand %q not found", name)
	}
}

func TestScoreCommand_Flags(t *testing.T) {
	for _, name := range []string{"mode", "top-k", "write-mode", "as-of", "active", "dry-run"} {
		assert.NotNil(t, scoreCmd.Flags().Lookup(name), "score command should have --%s", name)
	}
	assert.Equal(t, "true", scoreCmd.Flags().Lookup("active").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestIngestWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	reset := func() { ingestDays, ingestFrom, ingestTo = 0, "", "" }
	t.Cleanup(reset)
	cfg = &config.Config{Ingest: config.IngestConfig{DaysBack: 2}}

	t.Run("default days", func(t *testing.T) {
		reset()
		w, err := ingestWindow(now)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, -2), w.From)
		assert.Equal(t, now, w.To)
	})

	t.Run("explicit days", func(t *testing.T) {
		reset()
		ingestDays = 7
		w, err := ingestWindow(now)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, -7), w.From)
	})

	t.Run("from and to", func(t *testing.T) {
		reset()
		ingestFrom, ingestTo = "2026-01-01", "2026-01-31"
		w, err := ingestWindow(now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), w.From)
		assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), w.To)
	})

	t.Run("to without from", func(t *testing.T) {
		reset()
		ingestTo = "2026-01-31"
		_, err := ingestWindow(now)
		assert.Error(t, err)
	})

	t.Run("bad date", func(t *testing.T) {
		reset()
		ingestFrom = "01/01/2026"
		_, err := ingestWindow(now)
		assert.Error(t, err)
	})
}

func TestFormatReports(t *testing.T) {
	var buf bytes.Buffer
	formatReports(&buf, []ingest.Report{
		{Source: "opportunities:r", Pages: 2, Fetched: 10, Normalized: 9, Skipped: 1, Upserted: 9},
		{Source: "entities", Aborted: true, Err: errors.New("boom")},
	})

	out := buf.String()
	assert.Contains(t, out, "opportunities:r")
	assert.Contains(t, out, "aborted: boom")
	assert.Contains(t, out, "FETCHED")
}

func TestFormatMatches(t *testing.T) {
	var buf bytes.Buffer
	formatMatches(&buf, []model.Match{
		{OpportunityID: "N1", ContractorID: "ABC", Rank: 1, Score: 0.725, Tier: model.TierHot, Mode: model.ModeWeighted},
		{OpportunityID: "N1", ContractorID: "DEF", Rank: 2, Score: 85, Tier: model.TierHot, Mode: model.ModePoints, NeedsEnrichment: true},
	})

	out := buf.String()
	assert.Contains(t, out, "0.7250")
	assert.Contains(t, out, "85")
	assert.Contains(t, out, "yes")
}

func TestWriteConfig_MasksSecrets(t *testing.T) {
	c := &config.Config{
		SAM:       config.SAMConfig{APIKey: "sam-secret-key"},
		Anthropic: config.AnthropicConfig{Key: "sk-ant-secret", Model: "claude-haiku-4-5-20251001"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, c))

	out := buf.String()
	assert.NotContains(t, out, "sam-secret-key")
	assert.NotContains(t, out, "sk-ant-secret")
	assert.Contains(t, out, "claude-haiku-4-5-20251001")
	assert.Contains(t, out, "api_key: sam-")
}

func TestLocalFile(t *testing.T) {
	cfg = &config.Config{}

	t.Run("local path unchanged", func(t *testing.T) {
		got, cleanup, err := localFile(context.Background(), "/data/SAM_PUBLIC.zip")
		require.NoError(t, err)
		defer cleanup()
		assert.Equal(t, "/data/SAM_PUBLIC.zip", got)
	})

	t.Run("url downloaded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("Notice ID,Title\nN1,IT support\n"))
		}))
		defer srv.Close()

		got, cleanup, err := localFile(context.Background(), srv.URL+"/exports/ContractOpportunities.csv")
		require.NoError(t, err)
		assert.Equal(t, "ContractOpportunities.csv", filepath.Base(got))

		data, err := os.ReadFile(got)
		require.NoError(t, err)
		assert.Contains(t, string(data), "IT support")

		cleanup()
		_, err = os.Stat(got)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestNewSAMFetcher_SingleAttempt(t *testing.T) {
	cfg = &config.Config{SAM: config.SAMConfig{TimeoutSecs: 5}}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newSAMFetcher().Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
