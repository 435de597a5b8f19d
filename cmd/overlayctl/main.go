// Command overlayctl queries a running overlayd node's status endpoint.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/fieldmesh/overlay/statusclient"
)

func printFatal(msg string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(msg, args...))
	os.Exit(1)
}

func statusCommand(c *cli.Context) error {
	addr := c.String("addr")
	status, err := statusclient.RequestStatus(addr)
	if err != nil {
		printFatal("could not reach %s: %s", addr, err)
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	bold := color.New(color.Bold)
	bold.Println(status.NodeType, status.Self)
	fmt.Println("cached upstream:", nonEmpty(status.CachedUpstream))
	fmt.Println("client cache entries:", status.ClientCount)
	for rsu, n := range status.RSUTableSizes {
		fmt.Printf("  %s: %d entries\n", rsu, n)
	}
	return nil
}

func pingCommand(c *cli.Context) error {
	addr := c.String("addr")
	if _, err := statusclient.RequestStatus(addr); err != nil {
		color.Red("%s unreachable: %s", addr, err)
		os.Exit(1)
	}
	color.Green("%s is up", addr)
	return nil
}

func nonEmpty(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func main() {
	app := &cli.App{
		Name:  "overlayctl",
		Usage: "query a running overlayd node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "node status address, host:port", Required: true},
		},
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "print the node's current routing and cache state",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print raw JSON instead of a formatted summary"},
				},
			},
			{
				Name:   "ping",
				Usage:  "check whether the node's status endpoint answers",
				Action: pingCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		printFatal("%s", err)
	}
}
