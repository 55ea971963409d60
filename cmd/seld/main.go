// Command seld generates synthetic SELD soundscapes and turns them into
// feature and label tensors.
//
// Usage:
//
//	seld [flags] <command> [args]
//
// Commands:
//
//	generate   - Render soundscapes with annotations
//	rir        - Simulate and export the room impulse responses
//	calibrate  - Fit the wall absorption to the target RT60
//	features   - Extract and normalize features
//	labels     - Extract frame labels
//	run        - features followed by labels
package main

import (
	"fmt"
	"os"

	"github.com/cwbudde/algo-seld/cmd/seld/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
