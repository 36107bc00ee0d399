package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.d7z.net/devserver/pkg/build"
	"gopkg.d7z.net/devserver/pkg/config"
	"gopkg.d7z.net/devserver/pkg/utils"
	"gopkg.d7z.net/devserver/pkg/warnings"
)

var (
	configPath = "devserver.yaml"
	debug      = false
	outDir     = ""
	sourcemap  = false
)

func init() {
	flag.StringVar(&configPath, "conf", configPath, "config file path")
	flag.BoolVar(&debug, "debug", debug, "debug mode")
	flag.StringVar(&outDir, "out", outDir, "override output directory")
	flag.BoolVar(&sourcemap, "sourcemap", sourcemap, "emit source maps")
}

func main() {
	flag.Parse()
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "devserver.yaml" {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("fail to load config file: %v", err)
	}
	if outDir != "" {
		cfg.Build.OutDir = outDir
	}
	if sourcemap {
		cfg.Build.Sourcemap = true
	}
	filter := warnings.NewFilter(cfg.Warnings.Substrings, cfg.Warnings.Silence)
	call := utils.InitLogger(debug, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return warnings.NewCore(core, filter)
	}))
	defer call()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	result, err := build.Build(ctx, cfg)
	if err != nil {
		zap.L().Error("build failed", zap.Error(err))
		call()
		os.Exit(1)
	}
	for _, file := range result.Files {
		fmt.Printf("%s/%s\t%d\n", cfg.Build.OutDir, file.Output, file.Size)
	}
}
