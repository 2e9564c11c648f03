package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	flagFileName = "maintenance.flag"
	allowDirName = "allowlist"
	tmpSuffix    = ".tmp"
)

// fileStore keeps the flag and every allow-list entry as individual files under one
// directory so that any process sharing the filesystem sees the same state.
type fileStore struct {
	dir      string
	flagPath string
	allowDir string
}

// NewFileStore opens (or creates) a file-backed store rooted at dataDir.
func NewFileStore(dataDir string) (Store, error) {
	allowDir := filepath.Join(dataDir, allowDirName)
	if err := os.MkdirAll(allowDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &fileStore{
		dir:      dataDir,
		flagPath: filepath.Join(dataDir, flagFileName),
		allowDir: allowDir,
	}, nil
}

// ---- Flag ------------------------------------------------------------------

func (s *fileStore) GetFlag(_ context.Context) (FlagRecord, bool, error) {
	data, err := os.ReadFile(s.flagPath)
	if errors.Is(err, os.ErrNotExist) {
		return FlagRecord{}, false, nil
	}
	if err != nil {
		return FlagRecord{}, false, persistErr("read flag", err)
	}
	rec, err := decodeEpoch(string(data))
	if err != nil {
		return FlagRecord{}, false, persistErr("decode flag", err)
	}
	return rec, true, nil
}

func (s *fileStore) SetFlag(_ context.Context, rec FlagRecord) error {
	return persistErr("write flag", writeAtomic(s.flagPath, []byte(encodeEpoch(rec))))
}

func (s *fileStore) DeleteFlag(_ context.Context) error {
	return persistErr("delete flag", removeIfExists(s.flagPath))
}

// ---- Allow list ------------------------------------------------------------

func (s *fileStore) PutAllowed(_ context.Context, id string) error {
	if err := checkIdentifier(id); err != nil {
		return persistErr("put allowed", err)
	}
	return persistErr("put allowed", writeAtomic(filepath.Join(s.allowDir, id), nil))
}

func (s *fileStore) DeleteAllowed(_ context.Context, id string) error {
	if err := checkIdentifier(id); err != nil {
		return persistErr("delete allowed", err)
	}
	return persistErr("delete allowed", removeIfExists(filepath.Join(s.allowDir, id)))
}

func (s *fileStore) ListAllowed(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.allowDir)
	if err != nil {
		return nil, persistErr("list allowed", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		// In-flight temp files from a concurrent writer are not entries yet.
		if e.IsDir() || strings.HasSuffix(name, tmpSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, name)
	}
	return ids, nil
}

func (s *fileStore) HasAllowed(_ context.Context, id string) (bool, error) {
	if err := checkIdentifier(id); err != nil {
		return false, persistErr("has allowed", err)
	}
	info, err := os.Stat(filepath.Join(s.allowDir, id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("has allowed", err)
	}
	return !info.IsDir(), nil
}

// ---- Utility ---------------------------------------------------------------

func (s *fileStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.allowDir)
	if err != nil {
		return persistErr("ping", err)
	}
	if !info.IsDir() {
		return persistErr("ping", fmt.Errorf("%s is not a directory", s.allowDir))
	}
	return nil
}

func (s *fileStore) Close() error { return nil }

// writeAtomic writes data to a uniquely named temp file in the target directory,
// fsyncs it and renames it over path, so readers never observe a partial write.
func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// encodeEpoch renders the flag the way it is persisted on disk and in redis:
// the absolute expiry as Unix seconds, or "0" for no expiry.
func encodeEpoch(rec FlagRecord) string {
	if rec.ExpiresAt.IsZero() {
		return "0"
	}
	return strconv.FormatInt(rec.ExpiresAt.Unix(), 10)
}

func decodeEpoch(s string) (FlagRecord, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FlagRecord{}, nil
	}
	epoch, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return FlagRecord{}, fmt.Errorf("invalid expiry %q: %w", s, err)
	}
	if epoch <= 0 {
		return FlagRecord{}, nil
	}
	return FlagRecord{ExpiresAt: time.Unix(epoch, 0).UTC()}, nil
}

// checkIdentifier rejects identifiers that could escape the allow-list directory.
func checkIdentifier(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid identifier %q", id)
	}
	return nil
}
