package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gridops/internal/auth"
	"gridops/internal/config"
	apphttp "gridops/internal/http"
	"gridops/internal/store/memory"
)

type harness struct {
	t         *testing.T
	apiURL    string
	credsPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("GRIDOPS_CREDENTIALS_KEY", "")
	t.Setenv("GRIDOPS_EMBEDDED", "")
	t.Setenv("GRIDOPS_LOG_LEVEL", "error")

	cfg := config.Config{
		JWTSecret:      "jwt-secret",
		JWTIssuer:      "gridops-test",
		AccessTokenTTL: time.Minute,
		AdminUsername:  "admin",
		AdminPassword:  "pw",
		HistoryMaxSize: 5,
	}
	api := httptest.NewServer(apphttp.NewServer(cfg, memory.NewStore(time.Hour), nil, nil, zap.NewNop()).Router())
	t.Cleanup(api.Close)
	return &harness{
		t:         t,
		apiURL:    api.URL,
		credsPath: filepath.Join(t.TempDir(), "credentials.yaml"),
	}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--api-url", h.apiURL, "--credentials", h.credsPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "dashctl %v: %s", args, out)
	return out
}

func (h *harness) tamper(fn func(c *auth.Credentials)) {
	h.t.Helper()
	fc := auth.NewFileCredentials(h.credsPath, nil)
	c, err := fc.Load(context.Background())
	require.NoError(h.t, err)
	fn(&c)
	require.NoError(h.t, fc.Save(context.Background(), c))
}

func TestDiagramWorkflow(t *testing.T) {
	h := newHarness(t)
	require.Contains(t, h.mustRun("login", "-p", "pw"), "Logged in as admin")

	seed := filepath.Join(t.TempDir(), "components.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`
- id: bus-1
  kind: bus
  label: 11kV bus
- id: brk-1
  kind: breaker
  x: 40
  links: [bus-1]
`), 0o600))

	var created diagramView
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("diagrams", "create", "substation-a", "-f", seed, "--json")), &created))
	require.Len(t, created.State.Components, 2)
	require.Equal(t, int64(1), created.Version)

	var moved diagramView
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("diagrams", "move", created.ID, "bus-1", "5", "6", "--json")), &moved))
	require.True(t, moved.Changed)
	require.True(t, moved.CanUndo)
	require.Equal(t, 5.0, moved.State.Components[0].X)

	out := h.mustRun("diagrams", "undo", created.ID)
	require.Contains(t, out, "undo=false redo=true")
	require.Contains(t, out, "11kV bus")

	out = h.mustRun("diagrams", "undo", created.ID)
	require.Contains(t, out, "(unchanged)")

	require.Contains(t, h.mustRun("diagrams", "list"), "substation-a")
	require.Contains(t, h.mustRun("events", "-n", "50"), "DiagramUndone")
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	h := newHarness(t)
	h.mustRun("login", "-p", "pw")
	h.tamper(func(c *auth.Credentials) { c.AccessToken = "stale" })

	require.Equal(t, "admin\n", h.mustRun("whoami"))

	c, err := auth.NewFileCredentials(h.credsPath, nil).Load(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, "stale", c.AccessToken)
}

func TestRejectedRefreshAsksForLogin(t *testing.T) {
	h := newHarness(t)
	h.mustRun("login", "-p", "pw")
	h.tamper(func(c *auth.Credentials) {
		c.AccessToken = "stale"
		c.RefreshToken = "revoked"
	})

	out, err := h.run("whoami")
	require.Error(t, err)
	require.Contains(t, out, "Session expired. Run 'dashctl login', then retry 'dashctl whoami'.")
	_, statErr := os.Stat(h.credsPath)
	require.True(t, os.IsNotExist(statErr), "credentials file should be removed")
}

func TestEmbeddedModeKeepsCredentials(t *testing.T) {
	h := newHarness(t)
	h.mustRun("login", "-p", "pw")
	h.tamper(func(c *auth.Credentials) {
		c.AccessToken = "stale"
		c.RefreshToken = "revoked"
	})

	out, err := h.run("--embedded", "whoami")
	require.Error(t, err)
	require.NotContains(t, out, "Session expired")
	_, statErr := os.Stat(h.credsPath)
	require.NoError(t, statErr)
}

func TestLogoutRemovesCredentials(t *testing.T) {
	h := newHarness(t)
	h.mustRun("login", "-p", "pw")
	require.Contains(t, h.mustRun("logout"), "Logged out")
	_, statErr := os.Stat(h.credsPath)
	require.True(t, os.IsNotExist(statErr))
}

func TestLoginSealsRefreshTokenWithKey(t *testing.T) {
	h := newHarness(t)
	t.Setenv("GRIDOPS_CREDENTIALS_KEY", "correct horse battery staple")
	h.mustRun("login", "-p", "pw")

	raw, err := os.ReadFile(h.credsPath)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), "v1:"))

	require.Equal(t, "admin\n", h.mustRun("whoami"))
}

func TestLoginRequiresPassword(t *testing.T) {
	h := newHarness(t)
	t.Setenv("GRIDOPS_PASSWORD", "")
	_, err := h.run("login")
	require.ErrorContains(t, err, "password required")
}
