// Package jsonfile keeps the ledger as one JSON object keyed by subject id,
// replaced atomically on every commit.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"econcore/internal/adapter/repo/memory"
	"econcore/internal/domain/ledger"
)

const (
	ledgerFileMode  = 0o600
	ledgerDirMode   = 0o700
	tempFilePattern = ".ledger-*.json.tmp"
)

type Snapshotter struct {
	path string
}

func NewSnapshotter(path string) (*Snapshotter, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve ledger path: %w", err)
	}
	return &Snapshotter{path: filepath.Clean(abs)}, nil
}

func (s *Snapshotter) Path() string {
	return s.path
}

func (s *Snapshotter) Load() (map[string]ledger.AccountRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]ledger.AccountRecord{}, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	accounts := map[string]ledger.AccountRecord{}
	if len(data) == 0 {
		return accounts, nil
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("decode ledger file: %w", err)
	}
	for id, rec := range accounts {
		if rec.SubjectID == "" {
			rec.SubjectID = id
			accounts[id] = rec
		}
	}
	return accounts, nil
}

// Persist writes the full snapshot to a temp file in the same directory,
// syncs it and renames it over the live file.
func (s *Snapshotter) Persist(accounts map[string]ledger.AccountRecord) error {
	data, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode ledger file: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, ledgerDirMode); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tempFile.Chmod(ledgerFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp ledger file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp ledger file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	cleanup = false

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

type Options struct {
	Path            string
	StartingBalance int64
	Now             func() time.Time
}

// Open loads the snapshot at opts.Path and returns a ledger that rewrites it
// on every successful Apply.
func Open(opts Options) (*memory.Store, error) {
	snap, err := NewSnapshotter(opts.Path)
	if err != nil {
		return nil, err
	}
	accounts, err := snap.Load()
	if err != nil {
		return nil, err
	}
	return memory.NewStore(memory.Options{
		StartingBalance: opts.StartingBalance,
		Now:             opts.Now,
		Persister:       snap,
		Initial:         accounts,
	}), nil
}
