package main

import "github.com/ppiankov/wheelguard/internal/cli"

func main() {
	cli.Execute()
}
