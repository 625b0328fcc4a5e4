package main

import (
	"os"

	"github.com/dieguito9000/rskj/cmd/syncnode"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "syncnode"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func main() {
	os.Exit(syncnode.Run(progname, version, commit, os.Args))
}
