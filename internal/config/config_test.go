package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "PRIMARY_DSN", "HUBSPOT_TOKEN", "SHEETS_SPREADSHEET_ID", "CRM_SYNC_INTERVAL", "CRM_TIMEOUT", "SHEETS_TIMEOUT", "FRONTEND_URL"} {
		t.Setenv(k, "")
	}
	t.Setenv("PORT", "8080")
	t.Setenv("CRM_SYNC_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.CRM.SyncInterval)
	assert.Equal(t, 10000, cfg.Session.CacheSize)
	assert.Equal(t, 8*time.Second, cfg.Timeouts.CRM)
	assert.Equal(t, 8*time.Second, cfg.Timeouts.Sheets)
	assert.False(t, cfg.CRMEnabled())
	assert.False(t, cfg.SheetsEnabled())
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("PORT", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestSheetsRequireCredentials(t *testing.T) {
	t.Setenv("SHEETS_SPREADSHEET_ID", "sheet-123")
	t.Setenv("GOOGLE_CREDENTIALS_JSON", "")
	t.Setenv("GOOGLE_CREDENTIALS_FILE", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("GOOGLE_CREDENTIALS_FILE", "/etc/signdesk/sa.json")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SheetsEnabled())
}

func TestAllowedOriginsProduction(t *testing.T) {
	cfg := &Config{FrontendURL: "https://signs.example.com, https://www.signs.example.com"}
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://signs.example.com", "https://www.signs.example.com"}, cfg.AllowedOrigins())
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("D_GO", "90s")
	t.Setenv("D_SECONDS", "45")
	t.Setenv("D_BAD", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("D_GO", time.Second))
	assert.Equal(t, 45*time.Second, getEnvDuration("D_SECONDS", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("D_BAD", time.Second))
	assert.Equal(t, time.Minute, getEnvDuration("D_UNSET_FOR_TEST", time.Minute))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("B_ON", "on")
	t.Setenv("B_OFF", "0")
	t.Setenv("B_BAD", "maybe")

	assert.True(t, getEnvBool("B_ON", false))
	assert.False(t, getEnvBool("B_OFF", true))
	assert.True(t, getEnvBool("B_BAD", true))
}
