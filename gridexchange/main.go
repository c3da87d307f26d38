// Command gridexchange runs one side of a coarse/fine coupled solve, or both
// sides in-process with the demo subcommand.
package main

import "github.com/sarchlab/gridexchange/gridexchange/cmd"

func main() {
	cmd.Execute()
}
