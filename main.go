// Package main is the entry point for the xlat packet translator.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/xlat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
