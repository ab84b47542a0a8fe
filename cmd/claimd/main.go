package main

import "github.com/prepspace/claimd/internal/cli"

func main() {
	cli.Execute()
}
