// rbcnode runs a single replica of either RBC variant this module
// implements, or prints one fresh hex-encoded symmetric key for a
// config's [[keys]] table; it does not write a key map or config file.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/rbc-go/rbc/common/key"
	"github.com/rbc-go/rbc/common/log"
	"github.com/rbc-go/rbc/core"
	"github.com/rbc-go/rbc/netio"
	"github.com/rbc-go/rbc/types"
)

var (
	version   = "dev"
	gitCommit = "none"
)

var configFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to this node's TOML config file",
	Required: true,
}

var protocolFlag = &cli.StringFlag{
	Name:  "protocol",
	Usage: "which RBC variant to run: bracha or ctrbc",
	Value: "bracha",
}

var byzFlag = &cli.BoolFlag{
	Name:  "byz",
	Usage: "run this node as a Byzantine participant (test injection only)",
}

var crashFlag = &cli.BoolFlag{
	Name:  "crash",
	Usage: "run this node as a crash-faulty participant (test injection only)",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "enable debug-level logging",
}

func main() {
	app := &cli.App{
		Name:    "rbcnode",
		Usage:   "run or provision a reliable-broadcast replica",
		Version: fmt.Sprintf("%s (%s)", version, gitCommit),
		Commands: []*cli.Command{
			runCommand,
			keygenCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "start this replica and block until it is stopped",
	Flags: []cli.Flag{configFlag, protocolFlag, byzFlag, crashFlag, verboseFlag},
	Action: func(c *cli.Context) error {
		l := log.DefaultLogger()
		if c.Bool(verboseFlag.Name) {
			l = log.New(nil, log.DebugLevel, false)
		}

		cfg, err := key.LoadConfig(c.String(configFlag.Name))
		if err != nil {
			return errors.Wrap(err, "loading config")
		}
		cfg.Byz = c.Bool(byzFlag.Name)
		cfg.Crash = c.Bool(crashFlag.Name)

		var protocol core.Protocol
		switch c.String(protocolFlag.Name) {
		case "bracha":
			protocol = core.ProtocolBracha
		case "ctrbc":
			protocol = core.ProtocolCTRBC
		default:
			return errors.Errorf("unknown protocol %q", c.String(protocolFlag.Name))
		}

		self, ok := cfg.Group.Find(cfg.Self)
		if !ok {
			return errors.Errorf("replica %d not present in its own group config", cfg.Self)
		}

		receiver, err := netio.ListenTCP(l, self.Address)
		if err != nil {
			return errors.Wrapf(err, "listening on %s", self.Address)
		}

		addrs := make(map[types.Replica]string, len(cfg.Group.Nodes))
		for _, n := range cfg.Group.Nodes {
			if n.ID != cfg.Self {
				addrs[n.ID] = n.Address
			}
		}

		sender := netio.NewTCPSender(l, addrs)

		ctx := core.New(l, cfg, protocol, sender, receiver)

		if cfg.SyncAddr != "" {
			syncAddr := fmt.Sprintf("%s:%s", cfg.SyncAddr, strconv.Itoa(cfg.SyncPort))
			sc, err := core.DialSync(l, syncAddr, cfg.Self)
			if err != nil {
				l.Warnw("failed to connect to synchronizer, running unsynchronized", "err", err)
			} else {
				ctx.UseSyncClient(sc)
			}
		}

		go func() {
			for d := range ctx.Delivered() {
				l.Infow("instance delivered", "instance", d.Instance, "bytes", len(d.Payload))
			}
		}()

		runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		l.Infow("replica starting", "self", cfg.Self, "protocol", protocol, "addr", self.Address)
		ctx.Run(runCtx)
		if err := ctx.Shutdown(); err != nil {
			l.Warnw("error during shutdown", "err", err)
		}
		return nil
	},
}

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "print a fresh hex-encoded symmetric key suitable for a config's [[keys]] table",
	Action: func(c *cli.Context) error {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(buf))
		return nil
	},
}
