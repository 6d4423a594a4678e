package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRequiresConfig(t *testing.T) {
	configFile = ""
	t.Setenv("CONFIG_FILE", "")

	_, _, err := setup()
	assert.Error(t, err)
}

func TestSetupReadsConfigFileEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  postgres:
    host: localhost
    port: 5432
    user: waterbar
    dbname: waterbar
notifier:
  command: notifier-stub
logging:
  level: warn
`), 0o600))

	configFile = ""
	t.Setenv("CONFIG_FILE", path)
	t.Cleanup(func() { configFile = "" })

	cfg, log, err := setup()
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, "notifier-stub", cfg.Notifier.Command)
	assert.Equal(t, "send_waterbar_email", cfg.Notifier.ToolName)
}

func TestProcessRequiresOrder(t *testing.T) {
	cmd := processCmd()
	cmd.SetArgs([]string{"--order", "  "})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--order")
}

func TestSwaggerDocDescribesManagementAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerDocs(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		BasePath string                     `json:"basePath"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "/api/v1", doc.BasePath)
	assert.Contains(t, doc.Paths, "/status")
	assert.Contains(t, doc.Paths, "/orders/{id}/process")
	assert.Contains(t, doc.Paths, "/orders/{id}/dispatches")
}
