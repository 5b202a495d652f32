package main

import "github.com/xrpmon/bookd/internal/cli"

func main() {
	cli.Execute()
}
