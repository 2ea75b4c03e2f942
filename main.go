package main

import "github.com/KaramelBytes/dqmonitor/cmd"

func main() {
	cmd.Execute()
}
