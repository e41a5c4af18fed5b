package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/buskit/cmd/busctl/console"
	"github.com/mklimuk/buskit/i2c"
)

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe the bus for acknowledging addresses",
	Flags: append([]cli.Flag{
		&cli.IntFlag{Name: "first", Value: i2c.ScanFirst, Usage: "first probed address"},
		&cli.IntFlag{Name: "last", Value: i2c.ScanLast, Usage: "last probed address"},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		bus, closer, err := openBus(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer closeBus(closer)
		first, last := uint8(c.Int("first")), uint8(c.Int("last"))
		found, err := i2c.Scan(context.Background(), bus, first, last)
		if err != nil {
			return console.Exit(1, "scan aborted: %s", console.Red(err))
		}
		printScanGrid(first, last, found)
		if len(found) == 0 {
			console.PInfof(console.PictoGhost, "no device answered between %#02x and %#02x", first, last)
			return nil
		}
		console.PInfof(console.PictoProbe, "%d device(s) answered", len(found))
		return nil
	},
}

// printScanGrid renders the address window sixteen per row:
// acknowledged addresses in green, silent ones as --, addresses outside
// the window blank.
func printScanGrid(first, last uint8, found []i2c.Addr) {
	hit := make(map[uint16]bool, len(found))
	for _, a := range found {
		hit[a.Value()] = true
	}
	console.Print("     0  1  2  3  4  5  6  7  8  9  a  b  c  d  e  f")
	for row := 0; row <= 0x70; row += 0x10 {
		if row+0x0F < int(first) || row > int(last) {
			continue
		}
		line := fmt.Sprintf("%02x:", row)
		for col := 0; col < 16; col++ {
			v := row + col
			switch {
			case v < int(first) || v > int(last):
				line += "   "
			case hit[uint16(v)]:
				line += " " + console.Green(fmt.Sprintf("%02x", v))
			default:
				line += " --"
			}
		}
		console.Print(line)
	}
}
