package service

import (
	"path/filepath"

	"github.com/blackwell-systems/pkgtrack/internal/config"
)

// Paths collects the state file locations shared by the service process and
// short-lived CLI invocations. Everything lives under one directory.
type Paths struct {
	Dir         string
	ConfigFile  string
	TrackedFile string
	LockFile    string
	StateFile   string
	HistoryDB   string
	DownloadDir string
	LogFile     string
}

// PathsIn lays out the standard file names under dir.
func PathsIn(dir string) Paths {
	return Paths{
		Dir:         dir,
		ConfigFile:  filepath.Join(dir, "config.toml"),
		TrackedFile: filepath.Join(dir, "tracked.json"),
		LockFile:    filepath.Join(dir, "service.pid"),
		StateFile:   filepath.Join(dir, "service.json"),
		HistoryDB:   filepath.Join(dir, "history.db"),
		DownloadDir: filepath.Join(dir, "downloads"),
		LogFile:     filepath.Join(dir, "service.log"),
	}
}

// DefaultPaths resolves the user's pkgtrack state directory.
func DefaultPaths() (Paths, error) {
	dir, err := config.Dir()
	if err != nil {
		return Paths{}, err
	}
	return PathsIn(dir), nil
}
