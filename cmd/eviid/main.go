package main

import (
	"github.com/DrSkyle/eviid/cmd/eviid/commands"
)

func main() {
	commands.Execute()
}
