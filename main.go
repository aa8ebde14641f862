// apigraph parses API descriptions (RAML, OpenAPI and AsyncAPI) into a
// single graph model, validates it against the dialect's profile and writes
// the resolved model as JSON-LD.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/apigraph-go/cmd"
	"github.com/Benny93/apigraph-go/internal/apierr"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(apierr.ExitCode(err))
	}
}
