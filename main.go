// The main package for the gallito-crawler executable.
package main

import "github.com/JakeFAU/gallito-crawler/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
