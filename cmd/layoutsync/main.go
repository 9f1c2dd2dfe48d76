package main

import (
	"os"

	"github.com/grovetools/layoutsync/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:]))
}
