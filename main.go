package main

import "github.com/voltscope/voltscope/cmd"

func main() {
	cmd.Execute()
}
