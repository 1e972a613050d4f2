// Command local-search-mcp runs the local semantic document search engine
// as a Model Context Protocol server over stdio.
package main

import (
	"fmt"
	"os"

	"local-search-mcp/cmd/local-search-mcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
