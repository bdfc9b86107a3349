// Package nrf905 drives the Nordic nRF905 433/868/915 MHz transceiver.
package nrf905

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
)

// MaxPayload is the size of the transceiver payload buffers.
const MaxPayload = 32

// DefaultAddr is the reset value of the RX and TX addresses.
const DefaultAddr = 0xe7e7e7e7

// powerUpDelay is the time the chip needs after PWR_UP goes high before it
// reacts to TRX_CE and TX_EN.
const powerUpDelay = 3 * time.Millisecond

// Driver performs SPI conversations with the transceiver.
type Driver interface {
	// WriteRead performs one SPI conversation framed by a single CSN
	// assertion. oi is a list of alternating output and input buffers. For
	// every pair max(len(out), len(in)) bytes are exchanged. Missing output
	// bytes are sent as NOP (0xff), surplus input bytes are discarded.
	WriteRead(oi ...[]byte) (n int, err error)
}

// PinOut is a control line driven by the Device. gpio.PinIO satisfies it.
type PinOut interface {
	Out(l gpio.Level) error
	Read() gpio.Level
}

// PinIn is a status line read by the Device.
type PinIn interface {
	Read() gpio.Level
}

// Watcher is implemented by input pins that can call handler on edge.
type Watcher interface {
	Watch(edge gpio.Edge, handler func()) error
}

// Pins lists lines connected to the transceiver. Nil pin means that the
// line is not connected to the host (it is tied to VCC or GND).
type Pins struct {
	TRX PinOut // TRX_CE: 1: enable RX/TX, 0: standby.
	TX  PinOut // TX_EN: 1: TX, 0: RX.
	PWR PinOut // PWR_UP: 0: power down.
	CD  PinIn  // Carrier Detect.
	DR  PinIn  // Data Ready.
	AM  PinIn  // Address Match.
}

// Device wraps driver to provide interface to nRF905 transceiver.
//
// All methods are safe for concurrent use. SPI conversations are mutually
// exclusive, so events can be handled in separate goroutines (interrupt
// handlers) while the application reconfigures the device. Read-modify-write
// of the same configuration byte from two goroutines is not atomic.
type Device struct {
	drv    Driver
	pins   Pins
	clk    Clock
	log    *slog.Logger
	polled bool

	mu     sync.Mutex // SPI conversation and receive state.
	rx     rxState
	last   Stat
	events Events

	emu sync.Mutex
	err error
}

// New initializes the transceiver connected using drv and pins. It leaves
// the transceiver in power down mode (standby if PWR_UP isn't connected)
// with configuration loaded from cfg. Nil cfg means DefaultConfig().
//
// The Device works in interrupt mode if pins.DR is connected and
// cfg.Polled is false. In this mode HandleDR is attached to the rising edge
// of DR and HandleAM to both edges of AM if these pins implement Watcher.
// Otherwise the application has to call them from its interrupt handlers.
// In polled mode the application has to call Poll frequently.
func New(drv Driver, pins Pins, cfg *Config) (*Device, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	d := &Device{
		drv:    drv,
		pins:   pins,
		clk:    cfg.Clock,
		log:    cfg.Logger,
		polled: pins.DR == nil || cfg.Polled,
		events: cfg.Events,
	}
	if d.clk == nil {
		d.clk = clockwork.NewRealClock()
	}
	if d.log == nil {
		d.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d.log = d.log.With("component", "nrf905")

	d.powerOn(false)
	d.standbyMode(true)
	d.txMode(false)
	d.clk.Sleep(powerUpDelay)
	d.loadConfig(cfg)
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("nrf905: init: %w", err)
	}
	if !d.polled {
		if w, ok := pins.DR.(Watcher); ok {
			if err := w.Watch(gpio.RisingEdge, d.HandleDR); err != nil {
				return nil, fmt.Errorf("nrf905: watch DR: %w", err)
			}
		}
		if w, ok := pins.AM.(Watcher); ok {
			if err := w.Watch(gpio.BothEdges, d.HandleAM); err != nil {
				return nil, fmt.Errorf("nrf905: watch AM: %w", err)
			}
		}
	}
	d.log.Debug("initialized", "polled", d.polled, "mode", d.Mode())
	return d, nil
}

func (d *Device) loadConfig(cfg *Config) {
	regs := cfg.Regs()
	d.SetReg(0, regs[:]...)
	d.SetTxAddr(cfg.TxAddr)
	var zero [MaxPayload]byte
	d.WriteTxP(zero[:])
	if d.pins.PWR == nil {
		// Chip can't be reset by power cycle so DR may be set by a payload
		// received before. Reading the payload clears it.
		d.ReadRxP(zero[:])
	}
}

// Polled reports whether the Device works in polled mode.
func (d *Device) Polled() bool {
	return d.polled
}

// Err returns the error of the first failed command. If it is not nil
// subsequent commands aren't executed. This allows to call many command
// methods before checking an error.
func (d *Device) Err() error {
	d.emu.Lock()
	defer d.emu.Unlock()
	return d.err
}

// ClearErr clears the error returned by Err and returns it.
func (d *Device) ClearErr() error {
	d.emu.Lock()
	defer d.emu.Unlock()
	err := d.err
	d.err = nil
	return err
}

func (d *Device) setErr(err error) {
	d.emu.Lock()
	first := d.err == nil
	if first {
		d.err = err
	}
	d.emu.Unlock()
	if first {
		d.log.Warn("command failed", "err", err)
	}
}

// Close powers the transceiver down.
func (d *Device) Close() error {
	d.PowerDown()
	return d.Err()
}
