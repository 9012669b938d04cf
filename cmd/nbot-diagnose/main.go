// Package main is the entry point for nbot-diagnose.
package main

import (
	"errors"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}
