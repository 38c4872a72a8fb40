package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/supauth/supauth/internal/app"
	"github.com/supauth/supauth/pkg/logger"
)

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "Postgresql"
	cfg.Database.Postgres = app.DBAuthConfig{
		Host:     " db.internal ",
		Port:     5432,
		Database: "supauth",
		Username: "svc",
		Password: "secret",
	}

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5432, dbCfg.Port)
	require.Equal(t, "supauth", dbCfg.Name)

	cfg = &app.Config{}
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "sqlite", dbCfg.Driver)
}

func TestBootstrapRuntime(t *testing.T) {
	require.NoError(t, logger.Init("error"))

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database = app.DatabaseConfig{Driver: "sqlite"}
	cfg.Security.EncryptionKey = "bootstrap-test-key"
	cfg.Auth.JWT.Secret = "bootstrap-test-secret"

	log := logger.WithModule("bootstrap-test")

	stack, err := bootstrapRuntime(cfg, log)
	require.NoError(t, err)
	defer stack.Shutdown(context.Background(), log)

	require.NotNil(t, stack.DB)
	require.NotNil(t, stack.Router)
	require.NotNil(t, stack.Cleaner)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	stack.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Schema applied.
	require.True(t, stack.DB.Migrator().HasTable("user_two_factor"))
	require.True(t, stack.DB.Migrator().HasTable("trusted_devices"))
	require.True(t, stack.DB.Migrator().HasTable("rate_limit_attempts"))
}
