// Package state provides persistent state management for the tag index.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tagfs/internal/logging"

	"github.com/klauspost/compress/zstd"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

const (
	backupDirName = ".tagfs-backups"
	backupPrefix  = "state-"
	zstdExt       = ".zst"
)

// Options configures a Manager.
type Options struct {
	Format Format
	// BackupCount is the number of backups kept. Zero disables backups.
	BackupCount int
	// CompressBackups stores backups zstd-compressed.
	CompressBackups bool
}

// DefaultOptions returns JSON snapshots with five compressed backups.
func DefaultOptions() Options {
	return Options{
		Format:          FormatJSON,
		BackupCount:     5,
		CompressBackups: true,
	}
}

// Manager handles loading and saving index snapshots
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	compress    bool
	format      Format

	mu             sync.Mutex
	lastGeneration uint64
	saved          bool
}

// NewManager creates a new state manager for the given state file path.
// It ensures the state directory exists and is writable.
func NewManager(statePath string, opts Options) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", statePath)

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}

	// Create parent directory if it doesn't exist
	stateDir := filepath.Dir(absPath)
	logger.Debug("Ensuring state directory exists: %s", stateDir)
	if mkdirErr := os.MkdirAll(stateDir, 0755); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, mkdirErr)
	}

	// Try to create an empty file to verify we have write permissions
	f, writeErr := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0644)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, writeErr)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, backupDirName)
	if opts.BackupCount > 0 {
		logger.Debug("Creating backup directory: %s", backupDir)
		if backupDirErr := os.MkdirAll(backupDir, 0755); backupDirErr != nil {
			return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, backupDirErr)
		}
	}

	logger.Info("State manager initialization complete")
	return &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: opts.BackupCount,
		compress:    opts.CompressBackups,
		format:      format,
	}, nil
}

// Path returns the absolute path of the state file.
func (sm *Manager) Path() string {
	return sm.statePath
}

// LoadSnapshot loads the index snapshot from disk.
// If no state file exists, it creates a new one holding an empty snapshot.
// A state file that cannot be parsed is replaced by the newest readable backup.
func (sm *Manager) LoadSnapshot() (*Snapshot, error) {
	logger.Debug("Loading state from: %s", sm.statePath)
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := os.ReadFile(sm.statePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		logger.Info("No valid state file, creating new state")
		snap := NewSnapshot()
		if writeErr := sm.write(snap); writeErr != nil {
			return nil, fmt.Errorf("failed to write initial state: %w", writeErr)
		}
		logger.Info("Created new state file successfully")
		return snap, nil
	}

	logger.Debug("Parsing existing state file (%d bytes)", len(data))
	snap := &Snapshot{}
	if parseErr := sm.format.unmarshal(data, snap); parseErr != nil {
		logger.Error("Failed to parse state file: %v", parseErr)
		backup, backupErr := sm.newestBackup()
		if backupErr != nil {
			return nil, fmt.Errorf("failed to parse state file: %w (no usable backup: %v)", parseErr, backupErr)
		}
		logger.Warn("Recovered state from backup (generation %d)", backup.Generation)
		snap = backup
	}

	normalize(snap)
	sm.lastGeneration = snap.Generation
	sm.saved = true

	logger.Info("State loaded successfully: %d files, %d tags", len(snap.Files), len(snap.Tags))
	return snap, nil
}

func normalize(snap *Snapshot) {
	if snap.Version == 0 {
		snap.Version = CurrentVersion
	}
	if snap.NextID == 0 {
		snap.NextID = 1
	}
	if snap.Files == nil {
		snap.Files = []FileRecord{}
	}
	if snap.Tags == nil {
		snap.Tags = []TagRecord{}
	}
}

// SaveSnapshot saves a snapshot to disk, backing up the previous state first.
// Snapshots older than the last one written are ignored, so concurrent savers
// may complete in any order.
func (sm *Manager) SaveSnapshot(snap *Snapshot) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.saved && snap.Generation < sm.lastGeneration {
		logger.Debug("Skipping stale snapshot (generation %d < %d)", snap.Generation, sm.lastGeneration)
		return nil
	}

	logger.Debug("Saving state generation %d to: %s", snap.Generation, sm.statePath)

	// Create backup before saving
	if sm.backupCount > 0 {
		if backupErr := sm.createBackup(); backupErr != nil {
			logger.Warn("Failed to create backup: %v", backupErr)
			// Continue with save even if backup fails
		}
	}

	if err := sm.write(snap); err != nil {
		return err
	}

	sm.lastGeneration = snap.Generation
	sm.saved = true
	logger.Debug("State saved and verified successfully")
	return nil
}

// write replaces the state file atomically and verifies the result.
func (sm *Manager) write(snap *Snapshot) error {
	data, marshalErr := sm.format.marshal(snap)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal state: %w", marshalErr)
	}
	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty state data")
	}

	logger.Trace("Writing %d bytes of state data", len(data))
	tmp := sm.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, sm.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	// Verify the write
	info, verifyErr := os.Stat(sm.statePath)
	if verifyErr != nil {
		return fmt.Errorf("failed to verify written state: %w", verifyErr)
	}
	if info.Size() != int64(len(data)) {
		return fmt.Errorf("state file size mismatch after write: %d != %d", info.Size(), len(data))
	}
	return nil
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// createBackup creates a timestamped backup of the current state file
func (sm *Manager) createBackup() error {
	data, err := os.ReadFile(sm.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	timestamp := time.Now().Format("20060102-150405.000000")
	name := backupPrefix + timestamp + sm.format.ext()
	if sm.compress {
		enc, _, codecErr := zstdCodec()
		if codecErr != nil {
			return fmt.Errorf("failed to initialize zstd: %w", codecErr)
		}
		data = enc.EncodeAll(data, nil)
		name += zstdExt
	}

	backupPath := filepath.Join(sm.backupDir, name)
	logger.Debug("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

type backup struct {
	path    string
	modTime time.Time
}

// backups lists backup files, newest first
func (sm *Manager) backups() ([]backup, error) {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return nil, err
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(sm.backupDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].path > backups[j].path
		}
		return backups[i].modTime.After(backups[j].modTime)
	})
	return backups, nil
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (sm *Manager) cleanupOldBackups() error {
	backups, err := sm.backups()
	if err != nil {
		return err
	}

	for i := sm.backupCount; i < len(backups); i++ {
		logger.Debug("Removing old backup: %s", backups[i].path)
		if err := os.Remove(backups[i].path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].path, err)
		}
	}

	return nil
}

// newestBackup returns the most recent backup that decodes cleanly.
func (sm *Manager) newestBackup() (*Snapshot, error) {
	backups, err := sm.backups()
	if err != nil {
		return nil, err
	}

	for _, b := range backups {
		snap, err := readBackup(b.path)
		if err != nil {
			logger.Warn("Skipping unreadable backup %s: %v", b.path, err)
			continue
		}
		return snap, nil
	}
	return nil, fmt.Errorf("no backups in %s", sm.backupDir)
}

func readBackup(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	if strings.HasSuffix(name, zstdExt) {
		_, dec, codecErr := zstdCodec()
		if codecErr != nil {
			return nil, codecErr
		}
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress backup: %w", err)
		}
		name = strings.TrimSuffix(name, zstdExt)
	}

	format := FormatJSON
	if strings.HasSuffix(name, FormatCBOR.ext()) {
		format = FormatCBOR
	}

	snap := &Snapshot{}
	if err := format.unmarshal(data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
