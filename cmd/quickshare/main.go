package main

import (
	"fmt"
	"os"

	"quickshare/internal/config"
)

func main() {
	cfg := config.Default()
	config.LoadFromEnv(&cfg)

	if err := newRootCmd(&cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
