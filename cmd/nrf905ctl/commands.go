package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli"

	"github.com/ziutek/nrf905/nrfnet"
	"github.com/ziutek/nrf905/nrfperiph"
)

var COMMANDS = []cli.Command{
	{
		Name:   "regs",
		Usage:  "Print the configuration register",
		Action: regsCommand,
	},
	{
		Name:   "config",
		Usage:  "Print the effective configuration (file and flags)",
		Action: configCommand,
	},
	{
		Name:      "send",
		Usage:     "Send a payload",
		ArgsUsage: "<address> <payload>",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  "hex, x",
				Usage: "Payload is hex encoded",
			},
			cli.BoolFlag{
				Name:  "collision-avoid, a",
				Usage: "Don't transmit if a carrier is detected",
			},
		},
		Action: sendCommand,
	},
	{
		Name:  "listen",
		Usage: "Print received payloads",
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  "count, n",
				Usage: "Exit after receiving n payloads (0: never)",
			},
		},
		Action: listenCommand,
	},
	serveCommand,
}

func logger(c *cli.Context) *slog.Logger {
	lvl := slog.LevelInfo
	if c.GlobalBool("debug") {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openRadio(c *cli.Context) (*nrfperiph.Radio, error) {
	cfg, err := contextConfig(c)
	if err != nil {
		return nil, err
	}
	pc, err := cfg.periph()
	if err != nil {
		return nil, err
	}
	rc, err := cfg.radio(logger(c))
	if err != nil {
		return nil, err
	}
	return nrfperiph.Open(pc, rc)
}

// openInterface opens the radio and starts polling it if needed. The
// returned function stops polling and closes everything.
func openInterface(ctx context.Context, c *cli.Context, ncfg *nrfnet.Config) (*nrfnet.Interface, func(), error) {
	r, err := openRadio(c)
	if err != nil {
		return nil, nil, err
	}
	if ncfg == nil {
		ncfg = new(nrfnet.Config)
	}
	ncfg.Logger = logger(c)
	iface := nrfnet.NewInterface(r.Device, ncfg)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		iface.Run(ctx)
	}()
	return iface, func() {
		cancel()
		<-done
		iface.Close()
		r.Close()
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func regsCommand(c *cli.Context) error {
	r, err := openRadio(c)
	if err != nil {
		return err
	}
	defer r.Close()
	regs := r.Regs()
	if err := r.Err(); err != nil {
		return err
	}
	fmt.Printf("% x\n%v\n", regs[:], regs)
	return nil
}

func configCommand(c *cli.Context) error {
	cfg, err := contextConfig(c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "\t")
	return enc.Encode(cfg)
}

func parsePayload(s string, isHex bool) ([]byte, error) {
	if !isHex {
		return []byte(s), nil
	}
	p, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return p, nil
}

func sendCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.NewExitError("send requires <address> and <payload>", 1)
	}
	to, err := parseAddr(c.Args().Get(0))
	if err != nil {
		return err
	}
	p, err := parsePayload(c.Args().Get(1), c.Bool("hex"))
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	iface, closeAll, err := openInterface(ctx, c, &nrfnet.Config{
		CollisionAvoid: c.Bool("collision-avoid"),
	})
	if err != nil {
		return err
	}
	defer closeAll()
	if err := iface.Send(ctx, to, p); err != nil {
		return err
	}
	fmt.Printf("sent %d bytes to %08x\n", len(p), to)
	return nil
}

func listenCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()
	iface, closeAll, err := openInterface(ctx, c, nil)
	if err != nil {
		return err
	}
	defer closeAll()
	for n := 1; ; n++ {
		p, err := iface.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Printf("%s % x\n", p.Time.Format("15:04:05.000000"), p.Data)
		if n == c.Int("count") {
			return nil
		}
	}
}
