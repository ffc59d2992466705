package main

import "github.com/elearn-tools/moodlegrab/cmd"

func main() {
	cmd.Execute()
}
