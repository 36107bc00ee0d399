package config

import (
	"bytes"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 3000
	DefaultHost         = "0.0.0.0"
	DefaultBackend      = "http://127.0.0.1:8000"
	DefaultProxyTimeout = 30 * time.Second
)

type Config struct {
	Root string `yaml:"root"` // 项目根目录，index.html 所在位置

	Server   ServerConfig   `yaml:"server"`   // 开发服务器
	Proxy    []ProxyRule    `yaml:"proxy"`    // 反向代理规则，按声明顺序匹配
	Resolve  ResolveConfig  `yaml:"resolve"`  // 路径别名
	Build    BuildConfig    `yaml:"build"`    // 生产构建
	Optimize OptimizeConfig `yaml:"optimize"` // 依赖预构建
	Warnings WarningsConfig `yaml:"warnings"` // 弃用警告过滤
	Cache    CacheConfig    `yaml:"cache"`    // 静态内容缓存
}

type ServerConfig struct {
	Port       int            `yaml:"port"`
	Host       string         `yaml:"host"`
	Public     string         `yaml:"public"`      // 原样提供的静态资源目录
	Fallback   FallbackConfig `yaml:"fallback"`    // 前端路由回退
	LiveReload bool           `yaml:"live_reload"` // 文件变更后通知浏览器刷新
	Deny       []string       `yaml:"deny"`        // 禁止访问的路径 (glob)
	ErrorPage  string         `yaml:"error_page"`  // 自定义错误页模板
}

type FallbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Index   string `yaml:"index"`
}

type ProxyRule struct {
	// Pattern is a regular expression when it starts with "^", a glob when it
	// contains glob meta characters and a plain path prefix otherwise.
	Pattern      string        `yaml:"pattern"`
	Target       string        `yaml:"target"`
	ChangeOrigin bool          `yaml:"change_origin"` // 改写 Host 为目标地址
	Secure       bool          `yaml:"secure"`        // 校验目标 TLS 证书
	Timeout      time.Duration `yaml:"timeout"`
	Label        string        `yaml:"label"`
	Hint         string        `yaml:"hint"` // 连接失败时提示的启动命令
}

type ResolveConfig struct {
	Alias map[string]string `yaml:"alias"`
}

type BuildConfig struct {
	Src         string `yaml:"src"`
	OutDir      string `yaml:"out_dir"`
	AssetsDir   string `yaml:"assets_dir"`
	Sourcemap   bool   `yaml:"sourcemap"`
	EmptyOutDir bool   `yaml:"empty_out_dir"`
	Manifest    bool   `yaml:"manifest"`
}

type OptimizeConfig struct {
	Include []string `yaml:"include"`
}

type WarningsConfig struct {
	Substrings []string `yaml:"substrings"` // 消息包含该内容的弃用警告将被忽略
	Silence    []string `yaml:"silence"`    // 按弃用编号忽略
}

type CacheConfig struct {
	Entries   int           `yaml:"entries"`
	FileLimit string        `yaml:"file_limit"`
	TTL       time.Duration `yaml:"ttl"`

	fileLimit units.Base2Bytes
}

// Limit returns the largest file body kept in memory, parsed by Validate.
func (c CacheConfig) Limit() int64 {
	return int64(c.fileLimit)
}

func Default() *Config {
	return &Config{
		Root: ".",
		Server: ServerConfig{
			Port:   DefaultPort,
			Host:   DefaultHost,
			Public: "public",
			Fallback: FallbackConfig{
				Enabled: true,
				Index:   "/index.html",
			},
			LiveReload: true,
			Deny:       []string{"**.env", "**.env.*", "**.{crt,pem}"},
		},
		Proxy: []ProxyRule{
			{
				Pattern:      "^/api/",
				Target:       DefaultBackend,
				ChangeOrigin: true,
				Secure:       false,
				Timeout:      DefaultProxyTimeout,
				Label:        "api",
				Hint:         "python manage.py runserver",
			},
			{
				Pattern:      "^/media/",
				Target:       DefaultBackend,
				ChangeOrigin: true,
				Secure:       false,
				Timeout:      DefaultProxyTimeout,
				Label:        "media",
			},
		},
		Resolve: ResolveConfig{
			Alias: map[string]string{"@": "src"},
		},
		Build: BuildConfig{
			Src:         "src",
			OutDir:      "dist",
			AssetsDir:   "assets",
			Sourcemap:   false,
			EmptyOutDir: true,
		},
		Optimize: OptimizeConfig{
			Include: []string{"monaco-editor"},
		},
		Warnings: WarningsConfig{
			Substrings: []string{"util._extend"},
			Silence:    []string{"legacy-js-api"},
		},
		Cache: CacheConfig{
			Entries:   1024,
			FileLimit: "2MiB",
			TTL:       10 * time.Minute,
		},
	}
}

// Load overlays the YAML file at path on top of Default. An empty path
// returns the validated defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		// yaml merges into existing maps, a configured alias table replaces the defaults.
		var keys struct {
			Resolve map[string]yaml.Node `yaml:"resolve"`
		}
		if err = yaml.Unmarshal(data, &keys); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
		if _, ok := keys.Resolve["alias"]; ok {
			c.Resolve.Alias = nil
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err = decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
		if !filepath.IsAbs(c.Root) {
			c.Root = filepath.Join(filepath.Dir(path), c.Root)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Root == "" {
		c.Root = "."
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.Host == "" {
		return errors.New("server host is required")
	}
	if c.Server.Fallback.Enabled {
		if c.Server.Fallback.Index == "" {
			c.Server.Fallback.Index = "/index.html"
		}
		if !strings.HasPrefix(c.Server.Fallback.Index, "/") {
			return errors.Errorf("fallback index %q must start with /", c.Server.Fallback.Index)
		}
	}
	for _, item := range c.Server.Deny {
		if _, err := glob.Compile(item, '/'); err != nil {
			return errors.Wrapf(err, "invalid deny pattern %q", item)
		}
	}
	for i := range c.Proxy {
		if err := c.Proxy[i].normalize(); err != nil {
			return errors.Wrapf(err, "proxy rule #%d", i)
		}
	}
	for alias, dir := range c.Resolve.Alias {
		if strings.Trim(alias, "/") == "" || dir == "" {
			return errors.Errorf("invalid alias %q -> %q", alias, dir)
		}
	}
	if err := c.Build.validate(); err != nil {
		return err
	}
	for _, name := range c.Optimize.Include {
		if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
			return errors.Errorf("invalid dependency name %q", name)
		}
	}
	if c.Cache.FileLimit == "" {
		c.Cache.FileLimit = "0B"
	}
	limit, err := units.ParseBase2Bytes(c.Cache.FileLimit)
	if err != nil {
		return errors.Wrap(err, "parse cache file limit")
	}
	c.Cache.fileLimit = limit
	if c.Cache.Entries < 0 {
		return errors.New("cache entries must not be negative")
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Path resolves a project relative path against Root.
func (c *Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.Root}, elem...)...)
}

func (r *ProxyRule) normalize() error {
	if r.Pattern == "" {
		return errors.New("pattern is required")
	}
	if strings.HasPrefix(r.Pattern, "^") {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return errors.Wrapf(err, "invalid pattern %q", r.Pattern)
		}
	} else if IsGlob(r.Pattern) {
		if _, err := glob.Compile(r.Pattern, '/'); err != nil {
			return errors.Wrapf(err, "invalid pattern %q", r.Pattern)
		}
	} else if !strings.HasPrefix(r.Pattern, "/") {
		return errors.Errorf("prefix %q must start with /", r.Pattern)
	}
	target, err := url.Parse(r.Target)
	if err != nil {
		return errors.Wrapf(err, "invalid target %q", r.Target)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return errors.Errorf("target %q must be an absolute http(s) url", r.Target)
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultProxyTimeout
	}
	if r.Timeout < 0 {
		return errors.Errorf("timeout %s must be positive", r.Timeout)
	}
	if r.Label == "" {
		r.Label = r.Pattern
	}
	return nil
}

func IsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func (b *BuildConfig) validate() error {
	for name, dir := range map[string]string{
		"out_dir":    b.OutDir,
		"assets_dir": b.AssetsDir,
		"src":        b.Src,
	} {
		if dir == "" {
			return errors.Errorf("build %s is required", name)
		}
		if filepath.IsAbs(dir) {
			return errors.Errorf("build %s %q must be relative", name, dir)
		}
		clean := path.Clean(filepath.ToSlash(dir))
		if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
			return errors.Errorf("build %s %q escapes the project root", name, dir)
		}
	}
	return nil
}
