package main

import "github.com/kiesman99/pyramid/cmd"

func main() {
	cmd.Execute()
}
