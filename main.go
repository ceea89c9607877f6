// The main package for the newsminer executable.
package main

import (
	"github.com/localnewslab/newsminer/cmd"
)

func main() {
	cmd.Execute()
}
