// Command detbox executes a program inside the deterministic tracer: inode
// numbers, modification times, time, randomness and short read/write results
// the program observes are reproducible across runs.
package main

import (
	"flag"
	"fmt"
	"os"
)

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] <command> [args...]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}
