package main

import (
	"os"

	"github.com/majorcontext/kprof/cmd/buildprograms/cli"
	intcli "github.com/majorcontext/kprof/internal/cli"
)

func main() {
	os.Exit(intcli.ExitCode(cli.Execute()))
}
