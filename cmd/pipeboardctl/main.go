// Command pipeboardctl administers a pipeboard database: schema migrations,
// bulk import of exported jobs and journey inspection.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
