package build

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/units"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.d7z.net/devserver/pkg/config"
)

const (
	IndexFile    = "index.html"
	ManifestFile = ".manifest.json"
)

const sourceMapPattern = `//[#@][ \t]*sourceMappingURL=\S*|/\*[#@][ \t]*sourceMappingURL=[^*]*\*/`

var (
	// a comment on its own line is removed with its line break, a trailing
	// one only up to the end of the line.
	sourceMapComment = regexp.MustCompile(`(?m)^[ \t]*(?:` + sourceMapPattern + `)[ \t]*(?:\r?\n)?|` + sourceMapPattern)
	htmlReference    = regexp.MustCompile(`(?i)((?:src|href)\s*=\s*["'])([^"']+)(["'])`)
)

type File struct {
	Source string `json:"src,omitempty"`
	Output string `json:"file"`
	Size   int64  `json:"size"`
}

type Result struct {
	OutDir string
	Files  []File
	Bytes  int64
	// Manifest maps project relative sources to their hashed output.
	Manifest map[string]string
}

type builder struct {
	cfg    *config.Config
	outDir string

	l      sync.Mutex
	result *Result
}

// Build writes the production bundle of cfg into its output directory.
func Build(ctx context.Context, cfg *config.Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	b := &builder{
		cfg:    cfg,
		outDir: cfg.Path(cfg.Build.OutDir),
		result: &Result{Manifest: make(map[string]string)},
	}
	b.result.OutDir = b.outDir
	index, err := os.ReadFile(cfg.Path(IndexFile))
	if err != nil {
		return nil, errors.Wrap(err, "read entry html")
	}
	if cfg.Build.EmptyOutDir {
		if err = emptyDir(b.outDir); err != nil {
			return nil, err
		}
	}
	if err = os.MkdirAll(b.outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}
	if cfg.Server.Public != "" {
		if err = b.copyPublic(ctx, cfg.Path(cfg.Server.Public)); err != nil {
			return nil, err
		}
	}
	if err = b.emitAssets(ctx, cfg.Path(cfg.Build.Src), b.entries(index)); err != nil {
		return nil, err
	}
	index = rewriteReferences(index, b.references())
	if err = b.write(IndexFile, IndexFile, bytes.NewReader(index)); err != nil {
		return nil, err
	}
	if cfg.Build.Manifest {
		data, err := json.MarshalIndent(b.result.Manifest, "", "  ")
		if err != nil {
			return nil, err
		}
		if err = b.write("", ManifestFile, bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}
	sort.Slice(b.result.Files, func(i, j int) bool {
		return b.result.Files[i].Output < b.result.Files[j].Output
	})
	zap.L().Info("build finished",
		zap.String("out", b.outDir),
		zap.Int("files", len(b.result.Files)),
		zap.String("size", units.Base2Bytes(b.result.Bytes).String()),
		zap.Duration("duration", time.Since(start)))
	return b.result, nil
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read output directory")
	}
	for _, entry := range entries {
		if err = os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return errors.Wrapf(err, "empty output directory")
		}
	}
	return nil
}

// copyPublic copies the public directory as is, source maps included.
func (b *builder) copyPublic(ctx context.Context, dir string) error {
	return walkFiles(ctx, dir, func(rel, full string) error {
		f, err := os.Open(full)
		if err != nil {
			return err
		}
		defer f.Close()
		return b.write("", rel, f)
	})
}

// emitAssets copies the source tree below the assets directory keeping its
// layout, so relative imports, url() and source map references between
// files still resolve. Only the entries linked from the html get a content
// hash in their name.
func (b *builder) emitAssets(ctx context.Context, dir string, entries map[string]bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	err := walkFiles(ctx, dir, func(rel, full string) error {
		if !b.cfg.Build.Sourcemap && strings.HasSuffix(rel, ".map") {
			zap.L().Debug("drop source map", zap.String("path", full))
			return nil
		}
		source, err := filepath.Rel(b.cfg.Root, full)
		if err != nil {
			return err
		}
		source = filepath.ToSlash(source)
		g.Go(func() error {
			return b.emitAsset(source, rel, full, entries[source])
		})
		return nil
	})
	if waitErr := g.Wait(); waitErr != nil {
		return waitErr
	}
	return err
}

func (b *builder) emitAsset(source, rel, full string, entry bool) error {
	data, err := os.ReadFile(full)
	if err != nil {
		return err
	}
	if !b.cfg.Build.Sourcemap && strippable(full) {
		data = sourceMapComment.ReplaceAll(data, nil)
	}
	output := path.Join(filepath.ToSlash(b.cfg.Build.AssetsDir), rel)
	if entry {
		output = path.Join(path.Dir(output), HashedName(path.Base(rel), data))
	}
	if err = b.write(source, output, bytes.NewReader(data)); err != nil {
		return err
	}
	b.l.Lock()
	b.result.Manifest[source] = output
	b.l.Unlock()
	return nil
}

func (b *builder) write(source, output string, r io.Reader) error {
	target := filepath.Join(b.outDir, filepath.FromSlash(output))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	pendingFile, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o644))
	if err != nil {
		return errors.Wrapf(err, "create %s", output)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			zap.L().Debug("cleanup pending file", zap.String("file", output), zap.Error(err))
		}
	}()
	size, err := io.Copy(pendingFile, r)
	if err != nil {
		return errors.Wrapf(err, "write %s", output)
	}
	if err = pendingFile.CloseAtomicallyReplace(); err != nil {
		return errors.Wrapf(err, "replace %s", output)
	}
	b.l.Lock()
	b.result.Files = append(b.result.Files, File{Source: source, Output: output, Size: size})
	b.result.Bytes += size
	b.l.Unlock()
	return nil
}

// entries returns the project relative sources the entry html links to.
func (b *builder) entries(html []byte) map[string]bool {
	result := make(map[string]bool)
	for _, match := range htmlReference.FindAllSubmatch(html, -1) {
		if key, _, ok := referenceKey(string(match[2])); ok {
			result[b.resolve(key)] = true
		}
	}
	return result
}

// resolve expands an alias prefixed reference, longest alias first.
func (b *builder) resolve(key string) string {
	aliases := make([]string, 0, len(b.cfg.Resolve.Alias))
	for alias := range b.cfg.Resolve.Alias {
		aliases = append(aliases, alias)
	}
	sort.Slice(aliases, func(i, j int) bool {
		return len(aliases[i]) > len(aliases[j])
	})
	for _, alias := range aliases {
		prefix := strings.Trim(alias, "/") + "/"
		if strings.HasPrefix(key, prefix) {
			return path.Join(path.Clean(filepath.ToSlash(b.cfg.Resolve.Alias[alias])), strings.TrimPrefix(key, prefix))
		}
	}
	return key
}

// references maps every URL form an asset may be written as in the entry
// html to its public URL.
func (b *builder) references() map[string]string {
	b.l.Lock()
	defer b.l.Unlock()
	result := make(map[string]string, len(b.result.Manifest)*2)
	for source, output := range b.result.Manifest {
		result[source] = "/" + output
		for alias, dir := range b.cfg.Resolve.Alias {
			prefix := path.Clean(filepath.ToSlash(dir)) + "/"
			if strings.HasPrefix(source, prefix) {
				result[strings.Trim(alias, "/")+"/"+strings.TrimPrefix(source, prefix)] = "/" + output
			}
		}
	}
	return result
}

// HashedName inserts the first eight hex digits of the sha256 of data
// before the extension of name.
func HashedName(name string, data []byte) string {
	sum := sha256.Sum256(data)
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + hex.EncodeToString(sum[:])[:8] + ext
}

func rewriteReferences(html []byte, refs map[string]string) []byte {
	return htmlReference.ReplaceAllFunc(html, func(match []byte) []byte {
		parts := htmlReference.FindSubmatch(match)
		key, suffix, ok := referenceKey(string(parts[2]))
		if !ok {
			return match
		}
		target, ok := refs[key]
		if !ok {
			return match
		}
		result := make([]byte, 0, len(match))
		result = append(result, parts[1]...)
		result = append(result, target+suffix...)
		return append(result, parts[3]...)
	})
}

// referenceKey splits a local html reference into its project relative path
// and query or fragment. External and data URLs are not local.
func referenceKey(value string) (key, suffix string, ok bool) {
	key = value
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key, suffix = key[:i], key[i:]
	}
	if key == "" || strings.Contains(key, "://") || strings.HasPrefix(key, "//") || strings.HasPrefix(key, "data:") {
		return "", "", false
	}
	return strings.TrimPrefix(path.Clean("/"+key), "/"), suffix, true
}

func strippable(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".js", ".mjs", ".cjs", ".css":
		return true
	}
	return false
}

// walkFiles calls fn for every regular file below dir, skipping dot entries
// and node_modules. A missing dir is not an error.
func walkFiles(ctx context.Context, dir string, fn func(rel, full string) error) error {
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		return nil
	}
	return filepath.WalkDir(dir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if full != dir && (strings.HasPrefix(name, ".") || name == "node_modules") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, full)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), full)
	})
}
