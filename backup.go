package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const backupTimestampFormat = "20060102T150405"

// archiveEntry is one file written into a backup tarball.
type archiveEntry struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// StateBackup ships a gzipped tarball of the state file to a folder next to
// the synced tree, so the sync history survives losing the local disk.
type StateBackup struct {
	State    *StateStore
	Remote   RemoteStore
	RootID   string
	Folder   string
	Fs       afero.Fs
	Retry    RetryPolicy
	Notifier Notifier
	Clock    clockwork.Clock
}

// Run builds and uploads one backup, reporting the result through the
// notifier when one is configured. It returns the uploaded object's id.
func (b *StateBackup) Run(ctx context.Context) (string, error) {
	backupName, backupSize, remoteID, backupErr := b.tarAndUpload(ctx)
	if backupErr != nil {
		log.Warn(fmt.Sprintf("State backup failed: %s", backupErr))
	} else {
		log.Info(fmt.Sprintf("State backup %s (%s) uploaded as %s", backupName, humanize.Bytes(uint64(backupSize)), remoteID))
	}

	if b.Notifier != nil {
		if notifyErr := b.Notifier.NotifyBackupResults(backupName, backupSize, backupErr); notifyErr != nil {
			log.Error(fmt.Sprintf("Failed to send backup notification: %s", notifyErr))
		}
	}

	return remoteID, backupErr
}

func (b *StateBackup) tarAndUpload(ctx context.Context) (string, int64, string, error) {
	stateBytes, encodeErr := b.State.Encode()
	if encodeErr != nil {
		return "", 0, "", fmt.Errorf("encoding state: %w", encodeErr)
	}

	now := b.Clock.Now()
	backupPrefix := fmt.Sprintf("state_%s_*.tar.gz", now.Format(backupTimestampFormat))
	tarFile, tempErr := afero.TempFile(b.Fs, "", backupPrefix)
	if tempErr != nil {
		return "", 0, "", fmt.Errorf("creating backup file: %w", tempErr)
	}
	backupPath := tarFile.Name()
	backupName := filepath.Base(backupPath)
	defer b.Fs.Remove(backupPath)

	log.Info(fmt.Sprintf("Creating state backup tarball: %s", backupPath))
	entries := []archiveEntry{{Name: filepath.Base(b.State.Path()), Data: stateBytes, ModTime: now}}
	archiveErr := createArchive(entries, tarFile)
	closeErr := tarFile.Close()
	if archiveErr != nil {
		return backupName, 0, "", fmt.Errorf("writing backup archive: %w", archiveErr)
	}
	if closeErr != nil {
		return backupName, 0, "", fmt.Errorf("closing backup archive: %w", closeErr)
	}

	var backupSize int64
	if info, statErr := b.Fs.Stat(backupPath); statErr == nil {
		backupSize = info.Size()
	}

	var folderID string
	resolveErr := b.Retry.Do(ctx, "resolve backup folder "+b.Folder, func(ctx context.Context) error {
		id, err := b.Remote.ResolveOrCreateFolder(ctx, b.Folder, b.RootID)
		if err != nil {
			return err
		}
		folderID = id
		return nil
	})
	if resolveErr != nil {
		return backupName, backupSize, "", resolveErr
	}

	var remoteID string
	uploadErr := b.Retry.Do(ctx, "upload backup "+backupName, func(ctx context.Context) error {
		id, err := b.Remote.Upload(ctx, folderID, backupPath)
		if err != nil {
			return err
		}
		remoteID = id
		return nil
	})

	return backupName, backupSize, remoteID, uploadErr
}

func createArchive(entries []archiveEntry, buf io.Writer) error {
	gw := gzip.NewWriter(buf)
	tw := tar.NewWriter(gw)

	for _, entry := range entries {
		if err := addToArchive(tw, entry); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

func addToArchive(tw *tar.Writer, entry archiveEntry) error {
	header := &tar.Header{
		Name:    entry.Name,
		Mode:    int64(os.FileMode(0o644)),
		Size:    int64(len(entry.Data)),
		ModTime: entry.ModTime,
	}

	err := tw.WriteHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(tw, bytes.NewReader(entry.Data))
	return err
}
