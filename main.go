package main

import (
	"github.com/sidkik/syncotter/cmd"
	"github.com/sidkik/syncotter/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
