package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/buskit/cmd/busctl/console"
	"github.com/mklimuk/buskit/i2c"
)

var dumpCmd = cli.Command{
	Name:      "dump",
	Usage:     "read the full register file of a device",
	ArgsUsage: "<address>",
	Flags:     busFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return console.Exit(1, "usage: busctl dump <address>")
		}
		addr, err := parseAddr(c.Args().Get(0), false)
		if err != nil {
			return console.Exit(1, "invalid address: %s", console.Red(err))
		}
		bus, closer, err := openBus(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer closeBus(closer)

		if err = dumpRegisters(context.Background(), bus, addr); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.PInfof(console.PictoChip, "dumped %s", console.Cyan(addr))
		return nil
	},
}

// dumpRegisters reads all 256 registers with one pointer write and one
// byte read each, the way i2cdump does it, so devices without
// auto-increment read fine.
func dumpRegisters(ctx context.Context, bus i2c.Bus, addr i2c.Addr) error {
	var regs [256]byte
	for reg := 0; reg < len(regs); reg++ {
		if err := bus.WriteRead(ctx, addr, []byte{byte(reg)}, regs[reg:reg+1]); err != nil {
			return fmt.Errorf("read of register %#02x at %s failed: %w", reg, addr, err)
		}
	}
	printRegisterTable(regs[:])
	return nil
}

func printRegisterTable(regs []byte) {
	console.Print("     0  1  2  3  4  5  6  7  8  9  a  b  c  d  e  f    0123456789abcdef")
	for row := 0; row < len(regs); row += 16 {
		var b strings.Builder
		fmt.Fprintf(&b, "%02x:", row)
		for _, v := range regs[row : row+16] {
			fmt.Fprintf(&b, " %02x", v)
		}
		b.WriteString("   ")
		for _, v := range regs[row : row+16] {
			if v >= 0x20 && v < 0x7F {
				b.WriteByte(v)
			} else {
				b.WriteByte('.')
			}
		}
		console.Print(b.String())
	}
}
