package configpaths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// Name is the base directory and file name used for hcsim configuration.
const Name = "hcsim"

// DefaultConfigDir returns the platform-specific configuration directory.
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("AppData"); appdata != "" {
			return filepath.Join(appdata, Name), nil
		}
		return "", errors.New("AppData not set")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, Name), nil
		}
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", Name), nil
		}
		return "", errors.New("HOME not set")
	}
}

// Ext returns the file extension for a config format name.
func Ext(format string) string {
	switch format {
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	default:
		return "json"
	}
}

// EnsureDir creates the directory holding filePath.
func EnsureDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

// ConfigCandidatePaths lists config files per loader, in priority order.
// userPath, when set, comes first and is routed by its extension.
func ConfigCandidatePaths(userPath string) (jsonPaths, yamlPaths, tomlPaths []string) {
	if userPath != "" {
		switch filepath.Ext(userPath) {
		case ".yaml", ".yml":
			yamlPaths = append(yamlPaths, userPath)
		case ".toml":
			tomlPaths = append(tomlPaths, userPath)
		default:
			jsonPaths = append(jsonPaths, userPath)
		}
	}

	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if dir, err := DefaultConfigDir(); err == nil {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		for _, base := range []string{Name, "config", "run"} {
			jsonPaths = append(jsonPaths, filepath.Join(dir, base+".json"))
			yamlPaths = append(yamlPaths, filepath.Join(dir, base+".yaml"), filepath.Join(dir, base+".yml"))
			tomlPaths = append(tomlPaths, filepath.Join(dir, base+".toml"))
		}
	}
	return jsonPaths, yamlPaths, tomlPaths
}
