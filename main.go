package main

import "ma-cross-alerts/internal/cli"

func main() {
	cli.Execute()
}
