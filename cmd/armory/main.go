package main

import "github.com/veylan/armory/internal/cli"

func main() {
	cli.Execute()
}
