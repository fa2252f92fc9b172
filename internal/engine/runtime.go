package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	libxml2Soname    = "libxml2.so.2"
	libxml2AltSoname = "libxml2.so.16"
	compatLibDir     = "runtime-libs"
)

// libraryDirs are searched for shared libraries.
var libraryDirs = []string{
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
	"/usr/lib/i386-linux-gnu",
	"/usr/lib",
	"/lib/x86_64-linux-gnu",
	"/lib/aarch64-linux-gnu",
	"/lib",
	"/usr/local/lib",
}

var (
	sharedLibRe   = regexp.MustCompile(`([A-Za-z0-9._-]+\.so(?:\.\d+)*)\b`)
	postgresBinRe = regexp.MustCompile(`(/[^\s"]*/bin/postgres)`)
)

// MissingLibraries extracts shared library names from a start failure.
func MissingLibraries(msg string) []string {
	seen := map[string]bool{}
	var libs []string
	for _, m := range sharedLibRe.FindAllStringSubmatch(msg, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			libs = append(libs, m[1])
		}
	}
	return libs
}

// NeedsLibxml2Compat reports whether err is the server failing to load
// libxml2.so.2.
func NeedsLibxml2Compat(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), libxml2Soname)
}

func findLibrary(dirs []string, name string) string {
	var first string
	for _, dir := range dirs {
		matches, _ := filepath.Glob(filepath.Join(dir, name+"*"))
		for _, m := range matches {
			if filepath.Base(m) == name {
				return m
			}
			if first == "" {
				first = m
			}
		}
	}
	return first
}

// EnsureLibxml2Compat works around hosts that ship only libxml2.so.16 by
// linking it as libxml2.so.2 in root/pg_local/runtime-libs and prepending
// that directory to LD_LIBRARY_PATH. It reports whether the link is in place.
func EnsureLibxml2Compat(root string) (bool, error) {
	if runtime.GOOS != "linux" {
		return false, nil
	}
	return ensureLibCompat(root, libraryDirs)
}

func ensureLibCompat(root string, dirs []string) (bool, error) {
	if findLibrary(dirs, libxml2Soname) != "" {
		return false, nil
	}
	fallback := findLibrary(dirs, libxml2AltSoname)
	if fallback == "" {
		return false, nil
	}

	compatDir := filepath.Join(root, LocalDir, compatLibDir)
	link := filepath.Join(compatDir, libxml2Soname)
	if err := os.MkdirAll(compatDir, 0o755); err != nil {
		return false, err
	}
	if existing, err := os.Readlink(link); err != nil || existing != fallback {
		_ = os.Remove(link)
		if err := os.Symlink(fallback, link); err != nil {
			return false, err
		}
	}
	prependLibraryPath(compatDir)
	log.Infof("[Engine] linked %s -> %s", link, fallback)
	return true, nil
}

func prependLibraryPath(dir string) {
	cur := os.Getenv("LD_LIBRARY_PATH")
	for _, p := range strings.Split(cur, ":") {
		if p == dir {
			return
		}
	}
	if cur == "" {
		os.Setenv("LD_LIBRARY_PATH", dir)
		return
	}
	os.Setenv("LD_LIBRARY_PATH", dir+":"+cur)
}

// RuntimeHelp returns install instructions when err looks like the server
// binary could not load its shared libraries, or "" otherwise.
func RuntimeHelp(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	libs := MissingLibraries(msg)
	if len(libs) == 0 {
		return ""
	}
	joined := strings.Join(libs, ", ")

	var b strings.Builder
	fmt.Fprintln(&b, "PostgreSQL startup failed due to missing Linux runtime dependencies.")
	fmt.Fprintf(&b, "Missing libraries: %s\n\n", joined)
	fmt.Fprintln(&b, "Install system packages for your distro and retry:")
	fmt.Fprintln(&b, "  Ubuntu/Debian: sudo apt-get update && sudo apt-get install -y libxml2")
	fmt.Fprintln(&b, "  Fedora/RHEL:   sudo dnf install -y libxml2")
	fmt.Fprintln(&b, "  Alpine:        sudo apk add libxml2")
	if bin := postgresBinRe.FindString(msg); bin != "" {
		fmt.Fprintf(&b, "\nQuick check:\n  ldd %s | grep 'not found'\n", bin)
		if strings.Contains(bin, "/bin/bin/postgres") {
			fmt.Fprintf(&b, "The %s cache looks partially provisioned; remove it and retry.\n", LocalDir)
		}
	}
	fmt.Fprintf(&b, "If your distro uses different package names, install packages that provide: %s", joined)
	return b.String()
}
