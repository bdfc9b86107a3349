// Command nrf905ctl configures and operates an nRF905 transceiver connected
// to a Linux board.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "nrf905ctl"
	app.Usage = "Control an nRF905 transceiver"
	app.Flags = configFlags()
	app.Commands = COMMANDS

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}
