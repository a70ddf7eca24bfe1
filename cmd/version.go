package main

import (
	"fmt"
	"io"
	"runtime"
)

// Version is set at build time via ldflags
var Version = "v0.1.0"

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "dotnet-profile %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
}
