package main

import "github.com/marcus/groundskeeper/cmd/groundskeeper/commands"

func main() {
	commands.Execute()
}
