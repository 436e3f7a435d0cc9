package main

import "github.com/Daskott/safeline/cmd"

func main() {
	cmd.Execute()
}
