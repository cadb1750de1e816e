// Command qosfetch fetches URLs through a request-rate and bandwidth
// throttle.
//
//	qosfetch --config crawl.yaml fetch https://example.com/a https://example.com/b
//	qosfetch fetch --input urls.txt --progress --metrics-addr :9090
//	qosfetch --config crawl.yaml settings
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var version = "0.1.0"

type CLI struct {
	Config  string           `short:"c" type:"existingfile" help:"Path to a YAML settings file"`
	Debug   bool             `short:"d" help:"Enable debug logging"`
	Version kong.VersionFlag `short:"v" help:"Print version and exit"`

	Fetch    FetchCmd    `cmd:"" help:"Fetch URLs through the throttle"`
	Settings SettingsCmd `cmd:"" help:"Print the effective settings as YAML"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(
		&cli,
		kong.Vars{"version": version},
		kong.Name("qosfetch"),
		kong.Description("Fetch URLs under a request-rate and bandwidth budget"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "qosfetch:", err)
		os.Exit(1)
	}
}
