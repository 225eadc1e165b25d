package appconfig

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultSettingsDirName is the directory, relative to the repository root,
// that holds <app>.yaml settings files.
const DefaultSettingsDirName = "runway"

// FindRepoRoot walks up from start to the nearest directory that holds a
// .pipectl.yaml file, a runway/ settings directory or .git.
func FindRepoRoot(start string) string {
	start = strings.TrimSpace(start)
	if start == "" {
		return ""
	}
	info, err := os.Stat(start)
	if err == nil && !info.IsDir() {
		start = filepath.Dir(start)
	}
	for current := start; ; {
		if isRepoRoot(current) {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// SettingsDir resolves where application settings live. An explicit
// configured directory wins and is taken relative to repoRoot; otherwise
// repoRoot/runway is used when it exists, then ".".
func SettingsDir(repoRoot, configured string) string {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		if filepath.IsAbs(configured) || repoRoot == "" {
			return configured
		}
		return filepath.Join(repoRoot, configured)
	}
	if repoRoot != "" {
		dir := filepath.Join(repoRoot, DefaultSettingsDirName)
		if isDir(dir) {
			return dir
		}
	}
	return "."
}

func isRepoRoot(dir string) bool {
	if dir == "" {
		return false
	}
	if fi, err := os.Stat(filepath.Join(dir, ".pipectl.yaml")); err == nil && !fi.IsDir() {
		return true
	}
	if isDir(filepath.Join(dir, DefaultSettingsDirName)) {
		return true
	}
	return isDir(filepath.Join(dir, ".git"))
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
