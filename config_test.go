package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath
}

func validTestConfig() AppConfig {
	return AppConfig{
		WatchDir:          testRoot,
		StateFile:         "state.json",
		IntervalSeconds:   10,
		QuiescenceSeconds: 30,
		Concurrency:       1,
		DateSource:        "organized",
		Provider:          ProviderConfig{Name: "s3", Bucket: "bucket", Prefix: "backups"},
		Retry:             RetryConfig{Attempts: 5, BaseDelaySeconds: 2},
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	watchDir := t.TempDir()
	configPath := writeConfigFile(t, `
watchdir: `+watchDir+`
provider:
  name: s3
  bucket: my-bucket
  region: us-east-1
`)

	appConfig, err := LoadConfig(configPath)

	require.NoError(t, err)
	assert.Equal(t, watchDir, appConfig.WatchDir)
	assert.Equal(t, 10, appConfig.IntervalSeconds)
	assert.Equal(t, 30, appConfig.QuiescenceSeconds)
	assert.Equal(t, 1, appConfig.Concurrency)
	assert.Equal(t, "organized", appConfig.DateSource)
	assert.Equal(t, 5, appConfig.Retry.Attempts)
	assert.Equal(t, 2, appConfig.Retry.BaseDelaySeconds)
	assert.Equal(t, 256, appConfig.Provider.FolderCacheSize)
	assert.Equal(t, "info", appConfig.Log.Level)
	assert.Equal(t, filepath.Join(watchDir, "state.json"), appConfig.StatePath())
	assert.Equal(t, filepath.Join(watchDir, lockFileName), appConfig.LockPath())
	assert.False(t, appConfig.ReviveTombstones)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	configPath := writeConfigFile(t, `
watchdir: `+t.TempDir()+`
provider:
  name: gdrive
`)
	t.Setenv("FOLDER_ID", "drive-folder")
	t.Setenv("REFRESH_TOKEN", "refresh-token")
	t.Setenv("CLIENT_ID", "client-id")
	t.Setenv("FOLDERSYNC_INTERVALSECONDS", "60")

	appConfig, err := LoadConfig(configPath)

	require.NoError(t, err)
	assert.Equal(t, "drive-folder", appConfig.Provider.RootFolderID)
	assert.Equal(t, "refresh-token", appConfig.Provider.RefreshToken)
	assert.Equal(t, "client-id", appConfig.Provider.ClientID)
	assert.Equal(t, 60, appConfig.IntervalSeconds)
	assert.Equal(t, "drive-folder", appConfig.RootID())
}

func TestLoadConfigRequiresPath(t *testing.T) {
	_, err := LoadConfig("")

	assert.NotNil(t, err)
}

func TestLoadConfigRequiresProvider(t *testing.T) {
	configPath := writeConfigFile(t, "watchdir: "+t.TempDir()+"\n")

	_, err := LoadConfig(configPath)

	assert.NotNil(t, err)
}

func TestValidate(t *testing.T) {
	assert.Nil(t, validTestConfig().Validate())

	cases := map[string]func(*AppConfig){
		"interval":     func(c *AppConfig) { c.IntervalSeconds = 0 },
		"quiescence":   func(c *AppConfig) { c.QuiescenceSeconds = -1 },
		"concurrency":  func(c *AppConfig) { c.Concurrency = 0 },
		"date source":  func(c *AppConfig) { c.DateSource = "created" },
		"attempts":     func(c *AppConfig) { c.Retry.Attempts = 0 },
		"bucket":       func(c *AppConfig) { c.Provider.Bucket = "" },
		"provider":     func(c *AppConfig) { c.Provider.Name = "dropbox" },
		"drive folder": func(c *AppConfig) { c.Provider = ProviderConfig{Name: "gdrive", AccessToken: "token"} },
		"drive token":  func(c *AppConfig) { c.Provider = ProviderConfig{Name: "gdrive", RootFolderID: "folder"} },
		"sns topic":    func(c *AppConfig) { c.Notify = NotifyConfig{Provider: "sns"} },
		"sendgrid":     func(c *AppConfig) { c.Notify = NotifyConfig{Provider: "sendgrid", APIKey: "key"} },
		"notifier":     func(c *AppConfig) { c.Notify = NotifyConfig{Provider: "pager"} },
	}
	for name, mutate := range cases {
		appConfig := validTestConfig()
		mutate(&appConfig)
		assert.NotNil(t, appConfig.Validate(), name)
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	appConfig := validTestConfig()
	appConfig.Provider.Name = "dropbox"

	assert.ErrorIs(t, appConfig.Validate(), ErrUnknownProvider)
	_, err := appConfig.RemoteFromConfig(context.Background(), afero.NewMemMapFs())
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNotifierFromConfigUnset(t *testing.T) {
	notifier, err := validTestConfig().NotifierFromConfig(context.Background())

	assert.Nil(t, err)
	assert.Nil(t, notifier)
}

func TestNotifierFromConfigSendGrid(t *testing.T) {
	appConfig := validTestConfig()
	appConfig.Notify = NotifyConfig{Provider: "sendgrid", APIKey: "key", From: "a@example.com", To: "b@example.com"}

	notifier, err := appConfig.NotifierFromConfig(context.Background())

	assert.Nil(t, err)
	assert.IsType(t, &EmailNotifier{}, notifier)
}

func TestStatePathAbsolute(t *testing.T) {
	appConfig := validTestConfig()
	appConfig.StateFile = "/var/lib/foldersync/state.json"

	assert.Equal(t, "/var/lib/foldersync/state.json", appConfig.StatePath())
	assert.Equal(t, "backups", appConfig.RootID())
}

func TestConfigStringArrayMasksSecrets(t *testing.T) {
	appConfig := validTestConfig()
	appConfig.Provider = ProviderConfig{Name: "gdrive", RootFolderID: "folder", AccessToken: "super-secret", ClientSecret: "also-secret"}

	rendered := strings.Join(appConfig.ConfigStringArray(), "\n")

	assert.NotContains(t, rendered, "super-secret")
	assert.NotContains(t, rendered, "also-secret")
	assert.Contains(t, rendered, "RootFolderID: folder")
}

func TestBuildEngineWiresConfig(t *testing.T) {
	afs := afero.NewMemMapFs()
	state, err := LoadState(afs, testStatePath)
	require.NoError(t, err)
	appConfig := validTestConfig()
	appConfig.ReviveTombstones = true
	appConfig.Concurrency = 4
	appConfig.Exclude = []string{"*.tmp"}

	engine := buildEngine(appConfig, afs, state, NewMockRemoteStore(afs), newTestClock())

	assert.Equal(t, testRoot, engine.Root)
	assert.Equal(t, "backups", engine.RootID)
	assert.True(t, engine.ReviveTombstones)
	assert.Equal(t, 4, engine.Scanner.Concurrency)
	assert.Equal(t, 5, engine.Retry.Attempts)
	assert.True(t, engine.Scanner.Ignore.ShouldIgnore(testStatePath, false))
	assert.True(t, engine.Scanner.Ignore.ShouldIgnore(testStatePath+stateTempSuffix, false))
	assert.True(t, engine.Scanner.Ignore.ShouldIgnore("/watch/"+lockFileName, false))
	assert.True(t, engine.Scanner.Ignore.ShouldIgnore("/watch/inbox/download.tmp", false))
	assert.False(t, engine.Scanner.Ignore.ShouldIgnore("/watch/inbox/report.pdf", false))
}
