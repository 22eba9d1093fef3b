package main

import "agenthub/cmd/agenthub/cmd"

func main() {
	cmd.Execute()
}
