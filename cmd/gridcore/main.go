// Command gridcore runs the ComputeHub, GridNodes and the admin tooling.
package main

import "github.com/Wolido/idm-gridcore/internal/cli"

func main() {
	cli.Execute()
}
