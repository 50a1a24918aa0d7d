package main

import (
	"os"

	"github.com/matheus3301/wppagent/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
