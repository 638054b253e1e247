package main

import (
	"context"
	"fmt"
	"os"

	"carbonledger/internal/cli"
	"carbonledger/internal/logger"
)

func main() {
	// stdout carries command output; logs go to stderr.
	logger.Setup(logger.Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: "text",
		Output: os.Stderr,
	})

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
