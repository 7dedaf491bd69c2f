// Package snapshot is the on-disk store of fingerprints and versions.
//
// Layout, one directory per target key:
//
//	<root>/<key>/
//	    <key>-sha256hash          latest fingerprint, hex text
//	    <YYYY-MM-DD-HH-MM-SS>/    one version per detected change
//	        index.html
//	        <script names...>
//
// A version is staged in a hidden directory and renamed into place once
// every file is written; the fingerprint file is replaced after that, by
// rename as well. A failed write leaves neither a partial version nor a
// fingerprint without its version. The store assumes a single writer per
// target: concurrent creation of the target directory is tolerated, two
// processes writing versions at the same time are not coordinated.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/pagewatch/horosafe"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/resource"
)

const (
	// FingerprintSuffix is appended to the key to name the fingerprint file.
	FingerprintSuffix = "-sha256hash"
	// VersionLayout names version directories (second resolution).
	VersionLayout = "2006-01-02-15-04-05"

	stagingPrefix = ".staging-"
	// maxCollisions bounds the "-N" suffixes tried within one second.
	maxCollisions = 1000
)

// ErrVersionExists is returned when no free version name is left for a timestamp.
var ErrVersionExists = errors.New("snapshot: version already exists")

// Store owns everything under its root directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store rooted at root. Nothing is created until the first write.
func New(root string, opts ...Option) *Store {
	s := &Store{root: root, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Root returns the storage root.
func (s *Store) Root() string { return s.root }

// Dir returns the directory of key.
func (s *Store) Dir(key string) (string, error) {
	dir, err := horosafe.SafePath(s.root, key)
	if err != nil {
		return "", fmt.Errorf("snapshot: key %q: %w", key, err)
	}
	return dir, nil
}

func (s *Store) fingerprintPath(key string) (string, error) {
	dir, err := s.Dir(key)
	if err != nil {
		return "", err
	}
	return horosafe.SafePath(dir, key+FingerprintSuffix)
}

// LastFingerprint returns the stored fingerprint of key. ok is false when
// none has been written yet; err is reserved for real I/O failures.
func (s *Store) LastFingerprint(key string) (fp string, ok bool, err error) {
	path, err := s.fingerprintPath(key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("snapshot: read fingerprint: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// WriteSnapshot stores set as a new version named after at and records fp
// as the latest fingerprint. It returns the version name.
func (s *Store) WriteSnapshot(key string, set *resource.Set, fp string, at time.Time) (string, error) {
	dir, err := s.ensureDir(key)
	if err != nil {
		return "", err
	}

	staging, err := os.MkdirTemp(dir, stagingPrefix)
	if err != nil {
		return "", fmt.Errorf("snapshot: create staging dir: %w", err)
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("snapshot: chmod staging dir: %w", err)
	}
	if err := writeFiles(staging, set); err != nil {
		os.RemoveAll(staging)
		return "", err
	}

	version, err := s.publish(dir, staging, at)
	if err != nil {
		os.RemoveAll(staging)
		return "", err
	}

	if err := writeFingerprint(dir, key, fp); err != nil {
		// Drop the version so the next run re-detects the change.
		os.RemoveAll(filepath.Join(dir, version))
		return "", err
	}

	s.logger.Debug("snapshot: written",
		"key", key, "version", version, "resources", set.Len(), "fingerprint", fp)
	return version, nil
}

// ensureDir creates the root and the key directory. "Already exists" is
// success: another run may have created it first.
func (s *Store) ensureDir(key string) (string, error) {
	dir, err := s.Dir(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create root: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("snapshot: create target dir: %w", err)
	}
	return dir, nil
}

func writeFiles(dir string, set *resource.Set) error {
	for _, r := range set.Resources() {
		path, err := horosafe.SafePath(dir, r.Name)
		if err != nil {
			return fmt.Errorf("snapshot: resource %q: %w", r.Name, err)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return fmt.Errorf("snapshot: create %s: %w", r.Name, err)
		}
		if _, err := f.WriteString(r.Text); err != nil {
			f.Close()
			return fmt.Errorf("snapshot: write %s: %w", r.Name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("snapshot: close %s: %w", r.Name, err)
		}
	}
	return nil
}

// publish renames staging to the first free version name for at:
// the timestamp itself, then timestamp-1, timestamp-2, ...
func (s *Store) publish(dir, staging string, at time.Time) (string, error) {
	base := at.Format(VersionLayout)
	for n := 0; n < maxCollisions; n++ {
		name := base
		if n > 0 {
			name = base + "-" + strconv.Itoa(n)
		}
		final := filepath.Join(dir, name)
		if _, err := os.Lstat(final); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("snapshot: stat version: %w", err)
		}
		if err := os.Rename(staging, final); err != nil {
			return "", fmt.Errorf("snapshot: publish version: %w", err)
		}
		if n > 0 {
			s.logger.Warn("snapshot: version name collision", "dir", dir, "version", name)
		}
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrVersionExists, base)
}

func writeFingerprint(dir, key, fp string) error {
	tmp, err := os.CreateTemp(dir, ".fingerprint-*")
	if err != nil {
		return fmt.Errorf("snapshot: create fingerprint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(fp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write fingerprint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close fingerprint: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: chmod fingerprint: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, key+FingerprintSuffix)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: replace fingerprint: %w", err)
	}
	return nil
}

// Versions lists the version names of key, oldest first. A key that was
// never written has no versions.
func (s *Store) Versions(key string) ([]string, error) {
	dir, err := s.Dir(key)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: list versions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return versionLess(names[i], names[j]) })
	return names, nil
}

// ReadVersion returns the files of one version keyed by logical name.
func (s *Store) ReadVersion(key, version string) (map[string]string, error) {
	dir, err := s.Dir(key)
	if err != nil {
		return nil, err
	}
	vdir, err := horosafe.SafePath(dir, version)
	if err != nil {
		return nil, fmt.Errorf("snapshot: version %q: %w", version, err)
	}
	entries, err := os.ReadDir(vdir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read version: %w", err)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(vdir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("snapshot: read %s: %w", e.Name(), err)
		}
		files[e.Name()] = string(data)
	}
	return files, nil
}

// versionLess orders by timestamp, then by numeric collision suffix.
func versionLess(a, b string) bool {
	ta, na := splitVersion(a)
	tb, nb := splitVersion(b)
	if ta != tb {
		return ta < tb
	}
	return na < nb
}

func splitVersion(v string) (string, int) {
	if len(v) <= len(VersionLayout) || v[len(VersionLayout)] != '-' {
		return v, 0
	}
	n, err := strconv.Atoi(v[len(VersionLayout)+1:])
	if err != nil {
		return v, 0
	}
	return v[:len(VersionLayout)], n
}
