package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ridewallet/internal/app"
	"github.com/ent0n29/ridewallet/internal/config"
)

func TestToolsCommandPrintsDefinitions(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tools", "--providers", "DDOT,QLine"})

	require.NoError(t, cmd.Execute())

	var defs []struct {
		Name       string         `json:"name"`
		Parameters map[string]any `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &defs))
	require.Len(t, defs, 4)
	assert.Equal(t, "list_passes", defs[0].Name)
	provider := defs[0].Parameters["properties"].(map[string]any)["provider"].(map[string]any)
	assert.Equal(t, []any{"DDOT", "QLine"}, provider["enum"])
}

func TestStartFailsWithoutWalletAPI(t *testing.T) {
	t.Setenv("RIDEWALLET_CONFIG", "")
	t.Setenv("MYRIDE_WALLET_API", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"start", "--env-file", t.TempDir() + "/missing.env"})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYRIDE_WALLET_API")
}

func TestStartFailsWhenInitializationStalls(t *testing.T) {
	release := make(chan struct{})
	cleaned := make(chan struct{})
	orig := buildApp
	buildApp = func(ctx context.Context, cfg config.Config, _ app.Options) (*app.BuildResult, error) {
		<-release
		return &app.BuildResult{Config: cfg, Cleanup: func() error {
			close(cleaned)
			return nil
		}}, nil
	}
	t.Cleanup(func() { buildApp = orig })

	t.Setenv("RIDEWALLET_CONFIG", "")
	t.Setenv("MYRIDE_WALLET_API", "http://127.0.0.1:1")
	t.Setenv("APP_INIT_TIMEOUT", "10ms")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"start", "--env-file", t.TempDir() + "/missing.env"})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialization exceeded 10ms")

	close(release)
	select {
	case <-cleaned:
	case <-time.After(2 * time.Second):
		t.Fatal("late build result was not cleaned up")
	}
}
