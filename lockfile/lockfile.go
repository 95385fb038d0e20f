// Package lockfile ensures only one phonecheck process runs at a time.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another phonecheck instance is running")

// Lock is an exclusive advisory lock on a file. The lock is released when
// the process exits, even without Release.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the lock at path without blocking and records the PID in
// the file.
//
// Returns:
//   - *Lock: The held lock
//   - error: ErrLocked (wrapped with the holder's PID when known) or an I/O error
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := readPID(f)
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if holder > 0 {
				return nil, fmt.Errorf("%w (pid %d, lock %s)", ErrLocked, holder, path)
			}
			return nil, fmt.Errorf("%w (lock %s)", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	logrus.WithFields(logrus.Fields{
		"function": "lockfile.Acquire",
		"path":     path,
		"pid":      os.Getpid(),
	}).Debug("Acquired instance lock")

	return &Lock{path: path, file: f}, nil
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
