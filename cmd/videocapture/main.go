package main

import "github.com/bryanchriswhite/videocapture/cmd/videocapture/commands"

func main() {
	commands.Execute()
}
