// The main package for the quillwatch executable.
package main

import (
	"github.com/quillfeed/quillwatch/cmd"
)

func main() {
	cmd.Execute()
}
