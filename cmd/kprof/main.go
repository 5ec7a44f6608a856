package main

import (
	"os"

	"github.com/majorcontext/kprof/cmd/kprof/cli"
	intcli "github.com/majorcontext/kprof/internal/cli"
)

func main() {
	os.Exit(intcli.ExitCode(cli.Execute()))
}
