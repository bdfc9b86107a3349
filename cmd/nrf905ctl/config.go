package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli"
	"periph.io/x/conn/v3/physic"

	"github.com/ziutek/nrf905"
	"github.com/ziutek/nrf905/nrfperiph"
)

const defaultConfigPath = "~/.nrf905ctl.json"

// config is the content of the configuration file. Flags override it.
type config struct {
	Pins    nrfperiph.Config `json:"pins"`
	SPIFreq string           `json:"spi_freq"` // e.g. "2MHz".

	Channel int    `json:"channel"`
	Band    int    `json:"band"`  // 433, 868 or 915.
	Power   int    `json:"power"` // dBm.
	CRC     int    `json:"crc"`   // 0, 8 or 16.
	Xtal    int    `json:"xtal"`  // MHz.
	Payload int    `json:"payload"`
	Addr    string `json:"addr"` // Hex RX address.
	Polled  bool   `json:"polled"`
}

// periph returns nrfperiph.Config described by cfg.
func (cfg *config) periph() (*nrfperiph.Config, error) {
	pc := cfg.Pins
	if cfg.SPIFreq != "" {
		if err := pc.Freq.Set(cfg.SPIFreq); err != nil {
			return nil, fmt.Errorf("invalid SPI frequency: %w", err)
		}
	}
	return &pc, nil
}

func defaultConfig() *config {
	return &config{
		Pins: nrfperiph.Config{
			TRX: "GPIO25",
			TX:  "GPIO24",
			PWR: "GPIO23",
			CD:  "GPIO22",
			DR:  "GPIO27",
			AM:  "GPIO17",
		},
		Channel: 10,
		Band:    433,
		Power:   10,
		CRC:     16,
		Xtal:    16,
		Payload: nrf905.MaxPayload,
		Addr:    "e7e7e7e7",
	}
}

// loadConfig reads the configuration file at path. A missing file at the
// default path isn't an error.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		path = defaultConfigPath
	}
	name, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return cfg, nil
}

var pinFlags = []struct {
	name string
	dst  func(c *nrfperiph.Config) *string
}{
	{"spi", func(c *nrfperiph.Config) *string { return &c.SPI }},
	{"csn", func(c *nrfperiph.Config) *string { return &c.CSN }},
	{"trx", func(c *nrfperiph.Config) *string { return &c.TRX }},
	{"tx", func(c *nrfperiph.Config) *string { return &c.TX }},
	{"pwr", func(c *nrfperiph.Config) *string { return &c.PWR }},
	{"cd", func(c *nrfperiph.Config) *string { return &c.CD }},
	{"dr", func(c *nrfperiph.Config) *string { return &c.DR }},
	{"am", func(c *nrfperiph.Config) *string { return &c.AM }},
}

// configFlags lists global flags that override the configuration file.
func configFlags() []cli.Flag {
	flags := []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: defaultConfigPath,
			Usage: "Configuration file",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "Log debug messages",
		},
		cli.IntFlag{
			Name:  "channel",
			Usage: "Radio channel (0-511)",
		},
		cli.StringFlag{
			Name:  "freq",
			Usage: "Radio frequency, e.g. 868.2MHz (overrides channel and band)",
		},
		cli.IntFlag{
			Name:  "band",
			Usage: "Frequency band: 433, 868 or 915",
		},
		cli.IntFlag{
			Name:  "power",
			Usage: "TX power in dBm (-10, -2, 6, 10)",
		},
		cli.StringFlag{
			Name:  "addr",
			Usage: "RX address (hex)",
		},
		cli.BoolFlag{
			Name:  "polled",
			Usage: "Poll the status instead of watching DR and AM edges",
		},
	}
	for _, pf := range pinFlags {
		flags = append(flags, cli.StringFlag{
			Name:  pf.name,
			Usage: "Name of the " + strings.ToUpper(pf.name) + " line (empty: not connected)",
		})
	}
	return flags
}

// contextConfig loads the configuration file and applies global flags.
func contextConfig(c *cli.Context) (*config, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	for _, pf := range pinFlags {
		if c.GlobalIsSet(pf.name) {
			*pf.dst(&cfg.Pins) = c.GlobalString(pf.name)
		}
	}
	if c.GlobalIsSet("channel") {
		cfg.Channel = c.GlobalInt("channel")
	}
	if c.GlobalIsSet("band") {
		cfg.Band = c.GlobalInt("band")
	}
	if c.GlobalIsSet("freq") {
		var f physic.Frequency
		if err := f.Set(c.GlobalString("freq")); err != nil {
			return nil, fmt.Errorf("invalid frequency: %w", err)
		}
		cfg.Band = 433
		if f > 500*physic.MegaHertz {
			cfg.Band = 868
		}
		cfg.Channel = nrf905.Channel(f, band(cfg.Band))
	}
	if c.GlobalIsSet("power") {
		cfg.Power = c.GlobalInt("power")
	}
	if c.GlobalIsSet("addr") {
		cfg.Addr = c.GlobalString("addr")
	}
	if c.GlobalBool("polled") {
		cfg.Polled = true
	}
	return cfg, nil
}

func band(mhz int) nrf905.Band {
	if mhz == 433 {
		return nrf905.Band433
	}
	return nrf905.Band868
}

func parseAddr(s string) (uint32, error) {
	a, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(a), nil
}

// radio returns nrf905.Config described by cfg.
func (cfg *config) radio(log *slog.Logger) (*nrf905.Config, error) {
	rc := nrf905.DefaultConfig()
	rc.Channel = cfg.Channel
	rc.Band = band(cfg.Band)
	rc.Power = nrf905.Pwr(cfg.Power)
	switch cfg.CRC {
	case 0:
		rc.CRC = nrf905.CRCOff
	case 8:
		rc.CRC = nrf905.CRC8
	case 16:
		rc.CRC = nrf905.CRC16
	default:
		return nil, fmt.Errorf("invalid CRC width %d", cfg.CRC)
	}
	switch cfg.Xtal {
	case 4:
		rc.Xtal = nrf905.Xtal4MHz
	case 8:
		rc.Xtal = nrf905.Xtal8MHz
	case 12:
		rc.Xtal = nrf905.Xtal12MHz
	case 16:
		rc.Xtal = nrf905.Xtal16MHz
	case 20:
		rc.Xtal = nrf905.Xtal20MHz
	default:
		return nil, fmt.Errorf("invalid crystal frequency %d MHz", cfg.Xtal)
	}
	rc.TxPayload = cfg.Payload
	rc.RxPayload = cfg.Payload
	if cfg.Addr != "" {
		a, err := parseAddr(cfg.Addr)
		if err != nil {
			return nil, err
		}
		rc.RxAddr = a
	}
	rc.Polled = cfg.Polled
	rc.Logger = log
	return rc, nil
}
