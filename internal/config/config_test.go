package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/careerscope/jobharvester/internal/scrape"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.True(t, cfg.Scraper.RespectRobots)
	require.Equal(t, 30*time.Second, cfg.PageTimeout())
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "memory", cfg.Dedupe.Backend)
	require.Equal(t, 168*time.Hour, cfg.DedupeTTL())
	require.Equal(t, "0 */6 * * *", cfg.Scheduler.Spec)
	require.Empty(t, cfg.Targets)
}

func TestLoadFromFile(t *testing.T) {
	raw := `
server:
  port: 9090
scraper:
  user_agent: "test-bot/1.0"
  respect_robots: false
storage:
  backend: postgres
  dsn: "postgres://localhost:5432/harvester"
targets:
  - id: tech-board
    name: Tech Board
    base_url: https://jobs.example.com
    search_path: /search
    is_active: true
    selectors:
      container: ".job-card"
      title: ".job-title"
    rate:
      requests_per_minute: 10
      delay_between_requests: 2s
    pagination:
      mode: page
      param: page
      max_pages: 5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "test-bot/1.0", cfg.Scraper.UserAgent)
	require.False(t, cfg.Scraper.RespectRobots)
	require.Equal(t, "postgres", cfg.Storage.Backend)

	require.Len(t, cfg.Targets, 1)
	target := cfg.Targets[0]
	require.Equal(t, "tech-board", target.ID)
	require.True(t, target.IsActive)
	require.Equal(t, ".job-card", target.Selectors.Container)
	require.Equal(t, 10, target.Rate.RequestsPerMinute)
	require.Equal(t, scrape.PaginationByPage, target.Pagination.Mode)
	require.Equal(t, 5, target.Pagination.MaxPages)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Backend = "postgres"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.BlobBackend = "s3"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Dedupe.Backend = "redis"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.PubSub.Enabled = true
	require.Error(t, cfg.Validate())
}
