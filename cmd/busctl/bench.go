package main

import (
	"context"
	"os"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/buskit/cmd/busctl/console"
	"github.com/mklimuk/buskit/i2c"
)

var benchCmd = cli.Command{
	Name:      "bench",
	Usage:     "measure transaction latency",
	ArgsUsage: "<address> [<op>...]",
	Flags: append([]cli.Flag{
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 100, Usage: "number of transactions"},
		&cli.IntFlag{Name: "bins", Value: 9, Usage: "histogram bins"},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return console.Exit(1, "usage: busctl bench <address> [<op>...]")
		}
		addr, err := parseAddr(c.Args().Get(0), false)
		if err != nil {
			return console.Exit(1, "invalid address: %s", console.Red(err))
		}
		ops, _, _, err := parseOps(c.Args().Slice()[1:])
		if err != nil {
			return console.Exit(1, "invalid operation: %s", console.Red(err))
		}
		if len(ops) == 0 {
			// Same zero-length probe a scan uses.
			ops = []i2c.Operation{i2c.Write(nil)}
		}
		bus, closer, err := openBus(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer closeBus(closer)

		count := c.Int("count")
		lat := make([]float64, 0, count)
		ctx := context.Background()
		start := time.Now()
		for i := 0; i < count; i++ {
			t0 := time.Now()
			if err = bus.Exec(ctx, addr, ops); err != nil {
				return console.Exit(1, "transaction %d failed: %s", i+1, console.Red(err))
			}
			lat = append(lat, float64(time.Since(t0).Microseconds())/1000.0)
		}
		total := time.Since(start)

		console.PInfof(console.PictoClock, "%d transactions to %s in %s (%.1f/s)",
			count, console.Cyan(addr), total.Round(time.Millisecond), float64(count)/total.Seconds())
		console.Print("latency (ms):")
		hist := histogram.Hist(c.Int("bins"), lat)
		if err = histogram.Fprint(os.Stdout, hist, histogram.Linear(40)); err != nil {
			return console.Exit(1, "could not render histogram: %s", console.Red(err))
		}
		return nil
	},
}
