package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelpascari/covidapi/internal/config"
	"github.com/pavelpascari/covidapi/pkg/middleware/auth"
)

func run(t *testing.T, secret string, args ...string) (string, error) {
	t.Helper()
	v := config.New()
	if secret != "" {
		v.Set("auth.jwtSecret", secret)
	}

	var out bytes.Buffer
	cmd := newRootCmd(v)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestOpenAPICommand(t *testing.T) {
	out, err := run(t, "", "openapi")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Contains(t, doc["paths"], "/v1/data")

	out, err = run(t, "", "openapi", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "openapi: 3.0.3")

	_, err = run(t, "", "openapi", "--format", "toml")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	_, err := run(t, "", "token", "--subject", "analyst")
	require.ErrorContains(t, err, "jwtSecret")

	_, err = run(t, "s3cret", "token")
	require.ErrorContains(t, err, "--subject")

	out, err := run(t, "s3cret", "token", "--subject", "analyst", "--scope", "restricted")
	require.NoError(t, err)

	p, err := auth.NewJWTMiddleware([]byte("s3cret")).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "analyst", p.Subject)
	assert.True(t, p.HasScope("restricted"))
}

func TestNewLogger(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	logger, err := newLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Log.Level = "loud"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}

func TestOpenSource_UnknownDriver(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	cfg.Dataset.Driver = "mysql"

	_, _, err = openSource(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "mysql")
}
