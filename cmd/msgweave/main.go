package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/roach88/msgweave/internal/cli"
)

func main() {
	// A missing .env is fine; the environment and --config still apply.
	_ = godotenv.Load(".env")

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
