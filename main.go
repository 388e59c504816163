// Package main is the entry point for the strouter user-space router.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/strouter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
