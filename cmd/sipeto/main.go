package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/cmd"
	"github.com/JakeFAU/sipeto/internal/logging"
)

func main() {
	logger, err := logging.New(logging.Options{Level: "info"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	undo := zap.ReplaceGlobals(logger)

	if err := cmd.Execute(context.Background()); err != nil {
		logger.Error("command failed", zap.Error(err))
		_ = logger.Sync()
		undo()
		os.Exit(1)
	}
	_ = logger.Sync()
	undo()
}
