package prebundle

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const URLPrefix = "/@deps/"

// Entry is a dependency of the pre-bundle allowlist resolved inside
// node_modules.
type Entry struct {
	Name    string
	Version string
	// Dir is the package directory, File the entry point relative to Dir.
	Dir  string
	File string
}

// Prefix is the URL below which the package directory is served.
func (e Entry) Prefix() string {
	return URLPrefix + e.Name + "/"
}

// URL is where the entry point is served, relative imports of the entry
// resolve inside the package directory.
func (e Entry) URL() string {
	return e.Prefix() + path.Clean(filepath.ToSlash(e.File))
}

type packageJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Module  string `json:"module"`
	Main    string `json:"main"`
	Browser any    `json:"browser"`
}

// Resolve locates every package of names in root/node_modules. Packages that
// are not installed are logged and skipped, a malformed package.json fails.
func Resolve(root string, names []string) ([]Entry, error) {
	result := make([]Entry, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.Trim(name, "/")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		entry, err := resolve(root, name)
		if errors.Is(err, os.ErrNotExist) {
			zap.L().Warn("pre-bundle dependency not installed, skipped",
				zap.String("name", name), zap.String("root", root))
			continue
		}
		if err != nil {
			return nil, err
		}
		zap.L().Debug("pre-bundle dependency resolved", zap.String("name", name),
			zap.String("version", entry.Version), zap.String("entry", entry.URL()))
		result = append(result, *entry)
	}
	return result, nil
}

func resolve(root, name string) (*Entry, error) {
	dir := filepath.Join(root, "node_modules", filepath.FromSlash(name))
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, err
	}
	var pkg packageJSON
	if err = json.Unmarshal(data, &pkg); err != nil {
		return nil, errors.Wrapf(err, "parse package.json of %s", name)
	}
	candidates := []string{pkg.Module}
	if browser, ok := pkg.Browser.(string); ok {
		candidates = append(candidates, browser)
	}
	candidates = append(candidates, pkg.Main, "index.js")
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		clean := path.Clean("/" + filepath.ToSlash(candidate))[1:]
		file := filepath.Join(dir, filepath.FromSlash(clean))
		if stat, err := os.Stat(file); err == nil && !stat.IsDir() {
			return &Entry{
				Name:    name,
				Version: pkg.Version,
				Dir:     dir,
				File:    clean,
			}, nil
		}
	}
	return nil, errors.Errorf("no entry point found for %s", name)
}
