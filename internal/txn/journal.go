package txn

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const (
	journalDir = "txn"
	logSuffix  = ".json"
	tmpSuffix  = ".tmp"
)

// Journal stores transaction logs as <state-dir>/txn/<id>.json.
type Journal struct {
	fs  afero.Fs
	dir string
}

// NewJournal returns the journal under stateDir.
func NewJournal(fs afero.Fs, stateDir string) *Journal {
	return &Journal{fs: fs, dir: filepath.Join(stateDir, journalDir)}
}

// Dir returns the directory holding the logs.
func (j *Journal) Dir() string {
	return j.dir
}

// Path returns the log file of a transaction.
func (j *Journal) Path(id string) string {
	return filepath.Join(j.dir, id+logSuffix)
}

// write replaces the log of id through a synced temp file and rename, so a
// reader sees either the previous or the new document.
func (j *Journal) write(id string, doc []byte) error {
	if err := j.fs.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	path := j.Path(id)
	tmp := path + tmpSuffix
	f, err := j.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	if _, err := f.Write(doc); err != nil {
		f.Close()
		_ = j.fs.Remove(tmp)
		return fmt.Errorf("write log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = j.fs.Remove(tmp)
		return fmt.Errorf("sync log: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = j.fs.Remove(tmp)
		return fmt.Errorf("close log: %w", err)
	}
	if err := j.fs.Rename(tmp, path); err != nil {
		_ = j.fs.Remove(tmp)
		return fmt.Errorf("rename log: %w", err)
	}
	return nil
}

func (j *Journal) read(id string) ([]byte, error) {
	return afero.ReadFile(j.fs, j.Path(id))
}

// remove deletes the log of id. A missing log is not an error.
func (j *Journal) remove(id string) error {
	if err := j.fs.Remove(j.Path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove log: %w", err)
	}
	return nil
}

// List returns the ids of every log in the journal, sorted.
func (j *Journal) List() ([]string, error) {
	entries, err := afero.ReadDir(j.fs, j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list journal: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, logSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, logSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// removeTemps deletes interrupted temp files. Their content never replaced
// a log, so nothing is lost.
func (j *Journal) removeTemps() error {
	entries, err := afero.ReadDir(j.fs, j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list journal: %w", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tmpSuffix) {
			if err := j.fs.Remove(filepath.Join(j.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove temp log: %w", err)
			}
		}
	}
	return nil
}
