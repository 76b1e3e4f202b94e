package main

import "github.com/Tiliavir/timesync/cmd"

func main() {
	cmd.Execute()
}
