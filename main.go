package main

import "github.com/launchfleet/launchbot/cmd"

func main() {
	cmd.Execute()
}
