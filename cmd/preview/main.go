package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg"
	"gopkg.d7z.net/devserver/pkg/config"
	"gopkg.d7z.net/devserver/pkg/providers"
	"gopkg.d7z.net/devserver/pkg/utils"
)

var (
	configPath = "devserver.yaml"
	port       = 4173
	debug      = false
)

func init() {
	flag.StringVar(&configPath, "conf", configPath, "config file path")
	flag.IntVar(&port, "port", port, "port")
	flag.BoolVar(&debug, "debug", debug, "debug mode")
}

func main() {
	flag.Parse()
	call := utils.InitLogger(debug)
	defer call()
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "devserver.yaml" {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		zap.L().Fatal("failed to load config", zap.Error(err))
	}
	cfg.Server.Port = port
	dir := cfg.Path(cfg.Build.OutDir)
	if stat, err := os.Stat(filepath.Join(dir, "index.html")); err != nil || stat.IsDir() {
		zap.L().Fatal("output directory has no index.html, run the build first", zap.String("path", dir))
	}
	server, err := pkg.NewDevServer(cfg,
		pkg.WithMounts(providers.Mount{Prefix: "/", Dir: dir}),
		pkg.WithLiveReload(false),
		pkg.WithPrebundle(false),
	)
	if err != nil {
		zap.L().Fatal("failed to init preview server", zap.Error(err))
	}
	defer server.Close()
	fmt.Printf("preview http://%s/ , local path: %s\n", cfg.Addr(), dir)
	err = http.ListenAndServe(cfg.Addr(), server)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Fatal("failed to start server", zap.Error(err))
	}
}
