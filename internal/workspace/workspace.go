// Package workspace prepares the working directory a sweep runs in:
// fresh output directories, the engine build, and executable checks.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrExists is returned when an output directory is already present.
// Sweeps never write into the output of a previous sweep.
var ErrExists = errors.New("output directory already exists")

// MetaLogTimeFormat is the timestamp suffix of the meta log file name.
const MetaLogTimeFormat = "20060102-150405"

// Layout describes the paths a bootstrapped sweep writes to.
type Layout struct {
	LogsDir     string
	SerialDir   string
	MetaLogPath string // <logs>/expMetaLog_<YYYYMMDD-HHMMSS>
	LedgerPath  string // <logs>/ledger.db
}

// Bootstrap creates logsDir and serialDir. It fails with ErrExists if
// either is already present; a logs directory created before the failure
// is left in place.
func Bootstrap(logsDir, serialDir string, now time.Time) (Layout, error) {
	for _, dir := range []string{logsDir, serialDir} {
		if err := os.Mkdir(dir, 0755); err != nil {
			if errors.Is(err, os.ErrExist) {
				return Layout{}, fmt.Errorf("%s: %w", dir, ErrExists)
			}
			return Layout{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return Layout{
		LogsDir:     logsDir,
		SerialDir:   serialDir,
		MetaLogPath: filepath.Join(logsDir, "expMetaLog_"+now.Format(MetaLogTimeFormat)),
		LedgerPath:  filepath.Join(logsDir, "ledger.db"),
	}, nil
}

// CheckAbsent reports ErrExists for the first of dirs that is present.
// Used to fail fast before the build step runs.
func CheckAbsent(dirs ...string) error {
	for _, dir := range dirs {
		_, err := os.Stat(dir)
		if err == nil {
			return fmt.Errorf("%s: %w", dir, ErrExists)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", dir, err)
		}
	}
	return nil
}

// RunBuild runs the engine build command and waits for it. The build output
// goes to stdout and stderr. Any non-zero exit is an error.
func RunBuild(ctx context.Context, command []string, stdout, stderr io.Writer) error {
	if len(command) == 0 {
		return fmt.Errorf("empty build command")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %q failed: %w", command, err)
	}
	return nil
}

// LookupExecutable resolves name on PATH.
func LookupExecutable(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("engine launcher %q not found: %w", name, err)
	}
	return path, nil
}
