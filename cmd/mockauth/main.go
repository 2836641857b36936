package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/mockauth/internal/app"
)

func main() {
	if err := app.Run(nil, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mockauth: %v\n", err)
		os.Exit(1)
	}
}
