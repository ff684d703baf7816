package groundtruth

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// DefaultReaderArgs are the ndpiReader arguments used when none are configured.
// {capture} and {report} are replaced by the actual paths.
var DefaultReaderArgs = []string{"-i", "{capture}", "-j", "{report}", "-v", "1", "-f", "tcp"}

// RunReader invokes ndpiReader on the capture so that it writes its JSON report
// to reportPath.
func RunReader(ctx context.Context, readerPath string, args []string, capturePath, reportPath string, logger *zap.Logger) error {
	if len(args) == 0 {
		args = DefaultReaderArgs
	}
	replacer := strings.NewReplacer("{capture}", capturePath, "{report}", reportPath)
	expanded := make([]string, len(args))
	for i, a := range args {
		expanded[i] = replacer.Replace(a)
	}

	logger.Info("Running DPI reader", zap.String("path", readerPath), zap.Strings("args", expanded))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, readerPath, expanded...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("can not execute %s correctly: %w: %s", readerPath, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
