package main

import (
	"github.com/dutchcoders/nekoshield/cmd"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

func main() {
	cli.ErrWriter = color.Output

	app := cmd.New()
	app.RunAndExitOnError()
}
