package main

import "olx-watcher/cmd"

func main() {
	cmd.Execute()
}
