package main

import "goldwatch/internal/cli"

func main() {
	cli.Execute()
}
