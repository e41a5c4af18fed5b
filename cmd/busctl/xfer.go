package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/buskit/cmd/busctl/console"
	"github.com/mklimuk/buskit/i2c"
)

var xferCmd = cli.Command{
	Name:      "xfer",
	Usage:     "run one transaction against a device",
	ArgsUsage: "<address> <op>...  where op is w:<hex bytes> or r:<length>",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "ten", Usage: "treat the address as 10-bit"},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask before writing"},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		if c.NArg() < 2 {
			return console.Exit(1, "usage: busctl xfer <address> <op>...")
		}
		addr, err := parseAddr(c.Args().Get(0), c.Bool("ten"))
		if err != nil {
			return console.Exit(1, "invalid address: %s", console.Red(err))
		}
		ops, reads, writes, err := parseOps(c.Args().Slice()[1:])
		if err != nil {
			return console.Exit(1, "invalid operation: %s", console.Red(err))
		}
		if writes > 0 && !c.Bool("yes") {
			answer, err := console.YesOrNo(fmt.Sprintf("write %d byte(s) to %s?", writes, addr))
			if err != nil || answer != console.Yes {
				return console.Exit(1, "aborted")
			}
		}
		bus, closer, err := openBus(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer closeBus(closer)
		if err = bus.Exec(context.Background(), addr, ops); err != nil {
			return console.Exit(1, "transaction failed: %s", console.Red(err))
		}
		for i, buf := range reads {
			if len(reads) > 1 {
				console.Printf("read %d:\n", i+1)
			}
			console.Printf("%s", hex.Dump(buf))
		}
		console.PInfof(console.PictoFinish, "transaction complete")
		return nil
	},
}

// parseOps turns w:<hex> and r:<length> arguments into a transaction,
// returning the read buffers for printing and the total write size.
func parseOps(args []string) ([]i2c.Operation, [][]byte, int, error) {
	var ops []i2c.Operation
	var reads [][]byte
	writes := 0
	for _, arg := range args {
		kind, val, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, nil, 0, fmt.Errorf("%q is not of the form w:<hex> or r:<length>", arg)
		}
		switch strings.ToLower(kind) {
		case "w":
			data, err := hexBytes(val)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("bad write payload %q: %w", val, err)
			}
			writes += len(data)
			ops = append(ops, i2c.Write(data))
		case "r":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, nil, 0, fmt.Errorf("bad read length %q", val)
			}
			buf := make([]byte, n)
			reads = append(reads, buf)
			ops = append(ops, i2c.Read(buf))
		default:
			return nil, nil, 0, fmt.Errorf("unknown operation %q", kind)
		}
	}
	return ops, reads, writes, nil
}

func parseAddr(s string, ten bool) (i2c.Addr, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return i2c.Addr{}, fmt.Errorf("%q is not an address", s)
	}
	var addr i2c.Addr
	if ten {
		addr = i2c.Addr10(uint16(v))
	} else {
		if v > 0x7F {
			return i2c.Addr{}, fmt.Errorf("%w: %#x does not fit in 7 bits", i2c.ErrAddressRange, v)
		}
		addr = i2c.Addr7(uint8(v))
	}
	if err = addr.Validate(); err != nil {
		return i2c.Addr{}, err
	}
	return addr, nil
}

// hexBytes parses a hex payload such as "01ff23", tolerating spaces and
// colons between bytes.
func hexBytes(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "").Replace(s)
	clean = strings.TrimPrefix(clean, "0x")
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits")
	}
	return hex.DecodeString(clean)
}
