package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jinzhu/configor"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

const envPrefix = "FOLDERSYNC"

type AppConfig struct {
	WatchDir          string `default:"MyFiles" env:"WATCH_DIR"`
	StateFile         string `default:"state.json"`
	IntervalSeconds   int    `default:"10"`
	QuiescenceSeconds int    `default:"30"`
	Concurrency       int    `default:"1"`
	ReviveTombstones  bool
	DateSource        string `default:"organized"`
	Exclude           []string
	Provider          ProviderConfig
	Retry             RetryConfig
	Notify            NotifyConfig
	Log               LogConfig
	Backup            BackupConfig
}

type ProviderConfig struct {
	Name            string `required:"true"`
	Region          string
	Profile         string
	Bucket          string
	Prefix          string
	CredentialsFile string
	RootFolderID    string `env:"FOLDER_ID"`
	AccessToken     string `env:"ACCESS_TOKEN"`
	RefreshToken    string `env:"REFRESH_TOKEN"`
	ClientID        string `env:"CLIENT_ID"`
	ClientSecret    string `env:"CLIENT_SECRET"`
	FolderCacheSize int    `default:"256"`
}

type RetryConfig struct {
	Attempts         int `default:"5"`
	BaseDelaySeconds int `default:"2"`
}

type NotifyConfig struct {
	Provider string
	Region   string
	Profile  string
	ID       string
	APIKey   string `env:"SENDGRID_API_KEY"`
	From     string
	To       string
}

type LogConfig struct {
	Level  string `default:"info"`
	Format string `default:"auto"`
	File   string `default:"logs/activity.log"`
}

type BackupConfig struct {
	At     string
	Folder string `default:".foldersync-backups"`
}

// LoadConfig reads the configuration file, letting FOLDERSYNC_* variables and
// the credential variables (ACCESS_TOKEN, FOLDER_ID, ...) override it. A .env
// file in the working directory is loaded first.
func LoadConfig(configFilePath string) (AppConfig, error) {
	var appConfig AppConfig
	if configFilePath == "" {
		return appConfig, fmt.Errorf("Required flag --config not set but required")
	}

	_ = godotenv.Load()

	loader := configor.New(&configor.Config{ENVPrefix: envPrefix})
	if loadErr := loader.Load(&appConfig, configFilePath); loadErr != nil {
		return appConfig, fmt.Errorf("loading %s: %w", configFilePath, loadErr)
	}

	watchDir, expandErr := homedir.Expand(appConfig.WatchDir)
	if expandErr != nil {
		return appConfig, fmt.Errorf("expanding watch dir: %w", expandErr)
	}
	absDir, absErr := filepath.Abs(watchDir)
	if absErr != nil {
		return appConfig, fmt.Errorf("resolving watch dir: %w", absErr)
	}
	appConfig.WatchDir = absDir

	if validateErr := appConfig.Validate(); validateErr != nil {
		return appConfig, validateErr
	}

	return appConfig, nil
}

func (c AppConfig) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("IntervalSeconds must be positive, got %d", c.IntervalSeconds)
	}
	if c.QuiescenceSeconds < 0 {
		return fmt.Errorf("QuiescenceSeconds must not be negative, got %d", c.QuiescenceSeconds)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("Concurrency must be at least 1, got %d", c.Concurrency)
	}
	if !DateSource(c.DateSource).Valid() {
		return fmt.Errorf("DateSource must be %q or %q, got %q", DateOrganized, DateModified, c.DateSource)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("Retry.Attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.BaseDelaySeconds < 0 {
		return fmt.Errorf("Retry.BaseDelaySeconds must not be negative, got %d", c.Retry.BaseDelaySeconds)
	}

	switch c.Provider.Name {
	case "s3", "gcs":
		if c.Provider.Bucket == "" {
			return fmt.Errorf("Provider.Bucket is required for %s", c.Provider.Name)
		}
	case "gdrive":
		if c.Provider.RootFolderID == "" {
			return fmt.Errorf("Provider.RootFolderID (FOLDER_ID) is required for gdrive")
		}
		if c.Provider.AccessToken == "" && c.Provider.RefreshToken == "" {
			return fmt.Errorf("ACCESS_TOKEN or REFRESH_TOKEN is required for gdrive")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider.Name)
	}

	switch c.Notify.Provider {
	case "":
	case "sns":
		if c.Notify.ID == "" {
			return fmt.Errorf("Notify.ID (topic arn) is required for sns")
		}
	case "sendgrid":
		if c.Notify.APIKey == "" || c.Notify.From == "" || c.Notify.To == "" {
			return fmt.Errorf("Notify.APIKey, Notify.From and Notify.To are required for sendgrid")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNotifier, c.Notify.Provider)
	}

	return nil
}

// StatePath is the state file location; relative names live in the watch dir.
func (c AppConfig) StatePath() string {
	if filepath.IsAbs(c.StateFile) {
		return c.StateFile
	}
	return filepath.Join(c.WatchDir, c.StateFile)
}

func (c AppConfig) LockPath() string {
	return filepath.Join(c.WatchDir, lockFileName)
}

func (c AppConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c AppConfig) QuiescenceWindow() time.Duration {
	return time.Duration(c.QuiescenceSeconds) * time.Second
}

// RootID is the remote location everything is synced below: a key prefix
// for bucket providers, a folder id for drive.
func (c AppConfig) RootID() string {
	if c.Provider.Name == "gdrive" {
		return c.Provider.RootFolderID
	}
	return c.Provider.Prefix
}

func (c AppConfig) RemoteFromConfig(ctx context.Context, fs afero.Fs) (RemoteStore, error) {
	switch c.Provider.Name {
	case "s3":
		return NewS3Store(ctx, c.Provider, fs)
	case "gcs":
		return NewGCSStore(ctx, c.Provider, fs)
	case "gdrive":
		return NewDriveStore(ctx, c.Provider, fs)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider.Name)
	}
}

// NotifierFromConfig returns nil when no notification provider is set.
func (c AppConfig) NotifierFromConfig(ctx context.Context) (Notifier, error) {
	switch c.Notify.Provider {
	case "":
		return nil, nil
	case "sns":
		return NewSNSNotifier(ctx, c.Notify)
	case "sendgrid":
		return NewEmailNotifier(c.Notify), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNotifier, c.Notify.Provider)
	}
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func (c AppConfig) ConfigStringArray() []string {
	configStrArr := make([]string, 0)
	configStrArr = append(configStrArr, fmt.Sprintf("  - WatchDir: %s", c.WatchDir))
	configStrArr = append(configStrArr, fmt.Sprintf("  - StateFile: %s", c.StatePath()))
	configStrArr = append(configStrArr, fmt.Sprintf("  - Interval: %s", c.Interval()))
	configStrArr = append(configStrArr, fmt.Sprintf("  - Quiescence: %s", c.QuiescenceWindow()))
	configStrArr = append(configStrArr, fmt.Sprintf("  - Concurrent Hashing: %d", c.Concurrency))
	configStrArr = append(configStrArr, fmt.Sprintf("  - DateSource: %s", c.DateSource))
	configStrArr = append(configStrArr, fmt.Sprintf("  - ReviveTombstones: %t", c.ReviveTombstones))
	configStrArr = append(configStrArr, fmt.Sprintf("  - Retry: %d attempts, %ds base delay", c.Retry.Attempts, c.Retry.BaseDelaySeconds))

	configStrArr = append(configStrArr, "Remote:")
	configStrArr = append(configStrArr, fmt.Sprintf("  - Provider: %s", c.Provider.Name))
	switch c.Provider.Name {
	case "gdrive":
		configStrArr = append(configStrArr, fmt.Sprintf("  - RootFolderID: %s", c.Provider.RootFolderID))
		configStrArr = append(configStrArr, fmt.Sprintf("  - ClientID: %s", c.Provider.ClientID))
		configStrArr = append(configStrArr, fmt.Sprintf("  - AccessToken: %s", maskSecret(c.Provider.AccessToken)))
		configStrArr = append(configStrArr, fmt.Sprintf("  - RefreshToken: %s", maskSecret(c.Provider.RefreshToken)))
		configStrArr = append(configStrArr, fmt.Sprintf("  - ClientSecret: %s", maskSecret(c.Provider.ClientSecret)))
	default:
		configStrArr = append(configStrArr, fmt.Sprintf("  - Bucket: %s", c.Provider.Bucket))
		configStrArr = append(configStrArr, fmt.Sprintf("  - Prefix: %s", c.Provider.Prefix))
		configStrArr = append(configStrArr, fmt.Sprintf("  - Region: %s", c.Provider.Region))
		configStrArr = append(configStrArr, fmt.Sprintf("  - Profile: %s", c.Provider.Profile))
	}

	if c.Notify.Provider != "" {
		configStrArr = append(configStrArr, fmt.Sprintf("Notify: %s %s%s", c.Notify.Provider, c.Notify.ID, c.Notify.To))
	}
	if len(c.Exclude) > 0 {
		configStrArr = append(configStrArr, fmt.Sprintf("Exclude: %v", c.Exclude))
	}
	if c.Backup.At != "" {
		configStrArr = append(configStrArr, fmt.Sprintf("State backup: daily at %s into %s", c.Backup.At, c.Backup.Folder))
	}

	return configStrArr
}
