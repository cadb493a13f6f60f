// Command rlbridge relays simulation sessions between dashboards and an RL backend.
package main

import (
	"fmt"
	"os"

	"github.com/landingbay/rlbridge/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
