package main

import "github.com/vietddude/syncd/internal/cli"

func main() {
	cli.Execute()
}
