package main

import "essaypipe/internal/cli"

func main() {
	cli.Execute()
}
