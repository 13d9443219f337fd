package main

import "github.com/monogit/monogit/cmd"

func main() {
	cmd.Execute()
}
