// Command bilateral applies an edge-preserving bilateral filter to an image
// on the CPU or a GPU.
//
// Usage:
//
//	bilateral filter --in photo.png --out smooth.jpg --mode gpu --storage image
//	bilateral devices
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bilateral:", err)
		os.Exit(1)
	}
}
