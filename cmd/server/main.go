package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.d7z.net/devserver/pkg"
	"gopkg.d7z.net/devserver/pkg/utils"
	"gopkg.d7z.net/devserver/pkg/warnings"
)

var (
	configPath = defaultConfigPath
	debug      = false
	host       = ""
	port       = 0
	companion  = ""
)

func init() {
	flag.StringVar(&configPath, "conf", configPath, "config file path")
	flag.BoolVar(&debug, "debug", debug, "debug mode")
	flag.StringVar(&host, "host", host, "override server host")
	flag.IntVar(&port, "port", port, "override server port")
	flag.StringVar(&companion, "exec", companion, "command to run next to the server")
}

func main() {
	flag.Parse()
	config, err := LoadConfig(configPath, host, port)
	if err != nil {
		log.Fatalf("fail to load config file: %v", err)
	}
	filter := warnings.NewFilter(config.Warnings.Substrings, config.Warnings.Silence)
	call := utils.InitLogger(debug, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return warnings.NewCore(core, filter)
	}))
	defer call()

	server, err := pkg.NewDevServer(config)
	if err != nil {
		zap.L().Fatal("failed to init dev server", zap.Error(err))
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	svc := http.Server{Addr: config.Addr(), Handler: server}
	g.Go(func() error {
		zap.L().Info("dev server listening", zap.String("addr", config.Addr()), zap.String("root", config.Root))
		for _, rule := range server.Router().Rules() {
			zap.L().Info("proxy", zap.String("pattern", rule.Pattern), zap.String("target", rule.Target().String()))
		}
		if err := svc.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		zap.L().Debug("shutdown gracefully")
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return svc.Shutdown(shutdown)
	})
	g.Go(func() error {
		return server.Run(ctx)
	})
	if companion != "" {
		g.Go(func() error {
			if err := runCompanion(ctx, config.Root, companion, filter, os.Stderr); err != nil {
				zap.L().Error("companion failed", zap.Error(err))
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		zap.L().Error("dev server stopped", zap.Error(err))
	}
}
