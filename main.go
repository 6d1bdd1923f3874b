package main

import "github.com/brensch/dwcsync/cmd"

func main() {
	cmd.Execute()
}
