// Package main is the educall binary: the meeting bootstrap and telemetry services, the telemetry
// archive worker and an interactive call client.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
