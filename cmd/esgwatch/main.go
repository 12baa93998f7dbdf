package main

import "esgwatch/internal/cli"

func main() {
	cli.Execute()
}
