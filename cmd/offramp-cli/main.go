package main

import "offramp-core/cmd/offramp-cli/cmd"

func main() {
	cmd.Execute()
}
