// eslrctl -- CLI client for the ESLR routing daemon's control API.
package main

import "github.com/dantte-lp/goeslr/cmd/eslrctl/commands"

func main() {
	commands.Execute()
}
