// graphflow - in-memory graph database with worst-case optimal subgraph matching.
//
// graphflow loads typed vertex/edge datasets into versioned adjacency lists
// and answers subgraph pattern queries with Generic Join, from the command
// line or as an MCP server.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/graphflow-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
