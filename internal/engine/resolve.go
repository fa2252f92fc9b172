package engine

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"
)

// EnvPgCtl overrides the pg_ctl binary.
const EnvPgCtl = "PG_CTL"

// LocalDir is the per-project directory holding downloaded binaries and the
// embedded server's data.
const LocalDir = "pg_local"

var versionDirRe = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)

// BinRoot returns root/pg_local/bin.
func BinRoot(root string) string {
	return filepath.Join(root, LocalDir, "bin")
}

// InstalledVersions lists the version directories under binRoot, newest first.
func InstalledVersions(binRoot string) []string {
	entries, err := os.ReadDir(binRoot)
	if err != nil {
		return nil
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && versionDirRe.MatchString(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare("v"+versions[i], "v"+versions[j]) > 0
	})
	return versions
}

// ResolvePgCtl picks the pg_ctl binary: the explicit override, then $PG_CTL,
// then the newest root/pg_local/bin/<version>/bin/pg_ctl, then pg_ctl from
// PATH. The bare name is returned when nothing else matched so the failure
// surfaces when it is run.
func ResolvePgCtl(override, root string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv(EnvPgCtl); env != "" {
		return env
	}
	for _, v := range InstalledVersions(BinRoot(root)) {
		candidate := filepath.Join(BinRoot(root), v, "bin", "pg_ctl")
		if _, err := os.Stat(candidate); err == nil {
			log.Debugf("[Engine] using pg_ctl %s", candidate)
			return candidate
		}
	}
	if p, err := exec.LookPath("pg_ctl"); err == nil {
		return p
	}
	return "pg_ctl"
}
