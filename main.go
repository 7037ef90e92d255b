// The main package for the hkjc-crawler executable.
package main

import (
	"github.com/JakeFAU/hkjc-results-crawler/cmd"
)

func main() {
	cmd.Execute()
}
