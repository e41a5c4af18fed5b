package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chlog "github.com/charmbracelet/log"
	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/buskit/adapter"
	"github.com/mklimuk/buskit/cmd/busctl/console"
	"github.com/mklimuk/buskit/i2c"
)

var shellCmd = cli.Command{
	Name:  "shell",
	Usage: "interactive bus session",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		bus, closer, err := openBus(c)
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer closeBus(closer)

		completer := readline.NewPrefixCompleter(
			readline.PcItem("scan"),
			readline.PcItem("dump"),
			readline.PcItem("r"),
			readline.PcItem("w"),
			readline.PcItem("wr"),
			readline.PcItem("status"),
			readline.PcItem("recover"),
			readline.PcItem("trace",
				readline.PcItem("on"),
				readline.PcItem("off"),
			),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		)
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          console.Bold("bus> "),
			HistoryFile:     filepath.Join(os.TempDir(), "busctl_history"),
			AutoComplete:    completer,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return console.Exit(1, "could not open terminal: %s", console.Red(err))
		}
		defer func() { _ = rl.Close() }()

		console.PInfof(console.PictoPlug, "connected through %s, type help for commands", console.Cyan(cfg.Adapter))
		ctx := context.Background()
		for {
			line, err := rl.Readline()
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if fields[0] == "exit" || fields[0] == "quit" {
				return nil
			}
			if err = shellEval(ctx, bus, fields); err != nil {
				console.Errorf("%s", err)
			}
		}
	},
}

func shellEval(ctx context.Context, bus i2c.Bus, fields []string) error {
	switch fields[0] {
	case "help":
		shellHelp()
	case "trace":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return fmt.Errorf("usage: trace on|off")
		}
		on := fields[1] == "on"
		console.Trace = on
		if on {
			charm.SetLevel(chlog.DebugLevel)
			console.Debug("primitive tracing enabled")
		} else {
			charm.SetLevel(chlog.InfoLevel)
		}
	case "scan":
		found, err := i2c.Scan(ctx, bus, i2c.ScanFirst, i2c.ScanLast)
		if err != nil {
			return fmt.Errorf("scan aborted: %w", err)
		}
		printScanGrid(i2c.ScanFirst, i2c.ScanLast, found)
	case "dump":
		if len(fields) != 2 {
			return fmt.Errorf("usage: dump <address>")
		}
		addr, err := parseAddr(fields[1], false)
		if err != nil {
			return err
		}
		return dumpRegisters(ctx, bus, addr)
	case "r":
		if len(fields) != 3 {
			return fmt.Errorf("usage: r <address> <length>")
		}
		addr, err := parseAddr(fields[1], false)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil || n < 0 {
			return fmt.Errorf("bad read length %q", fields[2])
		}
		buf := make([]byte, n)
		if err = bus.Read(ctx, addr, buf); err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		console.Printf("%s", hex.Dump(buf))
	case "w":
		if len(fields) < 3 {
			return fmt.Errorf("usage: w <address> <hex>...")
		}
		addr, err := parseAddr(fields[1], false)
		if err != nil {
			return err
		}
		data, err := hexBytes(strings.Join(fields[2:], ""))
		if err != nil {
			return err
		}
		if err = bus.Write(ctx, addr, data); err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		console.PInfof(console.PictoFinish, "wrote % X to %s", data, console.Cyan(addr))
	case "wr":
		if len(fields) != 4 {
			return fmt.Errorf("usage: wr <address> <hex> <length>")
		}
		addr, err := parseAddr(fields[1], false)
		if err != nil {
			return err
		}
		w, err := hexBytes(fields[2])
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(fields[3])
		if err != nil || n < 0 {
			return fmt.Errorf("bad read length %q", fields[3])
		}
		buf := make([]byte, n)
		if err = bus.WriteRead(ctx, addr, w, buf); err != nil {
			return fmt.Errorf("transaction failed: %w", err)
		}
		console.Printf("%s", hex.Dump(buf))
	case "status":
		st, ok := bus.(interface {
			Status(context.Context) (*adapter.MCP2221Status, error)
		})
		if !ok {
			return fmt.Errorf("the %s adapter does not report status", cfg.Adapter)
		}
		status, err := st.Status(ctx)
		if err != nil {
			return fmt.Errorf("adapter communication error: %w", err)
		}
		enc := yaml.NewEncoder(os.Stdout)
		return enc.Encode(status)
	case "recover":
		rec, ok := bus.(interface{ Recover(context.Context) error })
		if !ok {
			return fmt.Errorf("the %s adapter cannot force a bus release", cfg.Adapter)
		}
		if err := rec.Recover(ctx); err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}
		console.PInfof(console.PictoPlug, "bus released")
	default:
		return fmt.Errorf("unknown command %q, type help", fields[0])
	}
	return nil
}

func shellHelp() {
	console.Print("  scan                   probe the default address window")
	console.Print("  dump <addr>            read the 256-register file")
	console.Print("  r <addr> <len>         read bytes")
	console.Print("  w <addr> <hex>...      write bytes")
	console.Print("  wr <addr> <hex> <len>  write then read under a repeated start")
	console.Print("  status                 controller status, when supported")
	console.Print("  recover                force the controller to release the bus")
	console.Print("  trace on|off           toggle primitive logging")
	console.Print("  exit")
}
