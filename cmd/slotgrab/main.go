package main

import "github.com/example/slotgrab/cmd"

func main() {
	cmd.Execute()
}
