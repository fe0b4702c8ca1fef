package main

import "github.com/vietddude/classifier/internal/cli"

func main() {
	cli.Execute()
}
