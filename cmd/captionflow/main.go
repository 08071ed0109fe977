// Command captionflow runs the caption translation daemon and offers
// offline tools for inspecting and translating caption payloads.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "captionflow:", err)
		}
		os.Exit(1)
	}
}
