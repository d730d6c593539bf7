package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centauron/federation-node/federationClient/compute"
	"github.com/centauron/federation-node/federationClient/db"
	"github.com/centauron/federation-node/federationClient/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitCmd(t *testing.T) {
	home := t.TempDir()

	out, err := execute(t, "init", "--home", home, "--node-identifier", "org.example")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, "config", "cfederation_config.json"))

	_, err = execute(t, "init", "--home", home)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "init", "--home", home, "--force")
	require.NoError(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "init", "--home", home, "--node-identifier", "org.example")
	require.NoError(t, err)

	cmd := &cobra.Command{}
	cmd.Flags().String(flagHome, home, "")
	addOverrideFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Set(flagPort, "9090"))
	t.Setenv("CFED_LOG_FORMAT", "json")

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "org.example", cfg.NodeIdentifier)
	assert.Equal(t, home, cfg.NodeHome)
	assert.Equal(t, 9090, cfg.QueryServerPort)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 1, cfg.LogLevel, "unset flags keep the file value")
}

func TestCursorCmd(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "init", "--home", home, "--node-identifier", "org.example")
	require.NoError(t, err)

	out, err := execute(t, "cursor", "get", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "no cursor stored")

	_, err = execute(t, "cursor", "set", "42", "--home", home)
	require.NoError(t, err)

	out, err = execute(t, "cursor", "get", "--home", home)
	require.NoError(t, err)
	assert.Equal(t, "42", strings.TrimSpace(out))

	_, err = execute(t, "cursor", "set", "latest", "--home", home)
	require.Error(t, err)
}

func TestReplayCmd_RejectsBadID(t *testing.T) {
	_, err := execute(t, "replay", "inbox", "zero", "--home", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid message id")
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cfederationd")
	assert.Contains(t, out, Version)
}

func TestJobsCmd(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "init", "--home", home, "--node-identifier", "org.example")
	require.NoError(t, err)

	_, err = execute(t, "jobs", "submit", "org.example#execution::1", "--home", home)
	require.Error(t, err)

	database, err := db.OpenFileDB(filepath.Join(home, "data"), db.DefaultFileName, true)
	require.NoError(t, err)
	require.NoError(t, database.Client().Create(&store.ComputingJobExecution{
		Identifier: "org.example#execution::1",
		Status:     compute.StatusPending,
	}).Error)
	require.NoError(t, database.Close())

	out, err := execute(t, "jobs", "submit", "org.example#execution::1", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "submitted")

	out, err = execute(t, "jobs", "finished", "org.example#execution::1", compute.StatusSucceeded, "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, compute.StatusSucceeded)

	database, err = db.OpenFileDB(filepath.Join(home, "data"), db.DefaultFileName, false)
	require.NoError(t, err)
	defer database.Close()
	var exec store.ComputingJobExecution
	require.NoError(t, database.Client().Where("identifier = ?", "org.example#execution::1").First(&exec).Error)
	assert.Equal(t, compute.StatusSucceeded, exec.Status)
}
