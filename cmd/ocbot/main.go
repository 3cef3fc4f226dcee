package main

import (
	"github.com/ocbot/ocbot/pkg/cmd"
)

func main() {
	cmd.Execute()
}
