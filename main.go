package main

import "github.com/vidstash/vidstash/cmd"

func main() {
	cmd.Execute()
}
