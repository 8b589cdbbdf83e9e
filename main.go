package main

import "github.com/kinyua-dev/cloudbot/cmd"

func main() {
	cmd.Execute()
}
