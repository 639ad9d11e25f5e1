// Command treectl renames, removes, backs up and restores nodes of a tree
// store, and files deduplicated pothole reports.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
