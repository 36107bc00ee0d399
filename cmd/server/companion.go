package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/warnings"
)

// runCompanion runs command next to the dev server, typically the style or
// type checker watch process. Its stderr passes through the warning filter.
func runCompanion(ctx context.Context, dir, command string, filter *warnings.Filter, stderr io.Writer) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.WaitDelay = 5 * time.Second
	pipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err = cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %q", command)
	}
	zap.L().Info("companion started", zap.String("command", command), zap.Int("pid", cmd.Process.Pid))
	scanErr := warnings.ScanLines(pipe, filter, func(notice warnings.Notice) {
		_, _ = fmt.Fprintln(stderr, notice.Text)
	})
	err = cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "companion %q exited", command)
	}
	if scanErr != nil {
		zap.L().Warn("failed to read companion output", zap.Error(scanErr))
	}
	zap.L().Info("companion exited", zap.String("command", command))
	return nil
}
