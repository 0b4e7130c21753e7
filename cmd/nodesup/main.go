// Command nodesup starts and supervises emulated switch and controller nodes.
package main

import "github.com/jrepp/nodesup/cmd/nodesup/cmd"

func main() {
	cmd.Execute()
}
