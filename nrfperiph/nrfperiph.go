// Package nrfperiph connects nrf905.Device to the transceiver using
// periph.io drivers (spidev and sysfs/gpiomem GPIO on Linux boards).
package nrfperiph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ziutek/nrf905"
)

// DefaultFreq is the SPI clock used if Config.Freq is zero. nRF905 accepts
// up to 10 MHz.
const DefaultFreq = 2 * physic.MegaHertz

// Config describes how the transceiver is connected. Pin names are
// resolved by gpioreg.ByName so both "GPIO17" and "17" are accepted. Empty
// name means that the line is not connected.
type Config struct {
	SPI  string           `json:"spi"` // SPI port, "" means the first one.
	Freq physic.Frequency `json:"-"`   // SPI clock.
	CSN  string           `json:"csn"` // Only if the port doesn't drive CS.

	TRX string `json:"trx"`
	TX  string `json:"tx"`
	PWR string `json:"pwr"`
	CD  string `json:"cd"`
	DR  string `json:"dr"`
	AM  string `json:"am"`
}

// Radio is nrf905.Device connected using periph.io.
type Radio struct {
	*nrf905.Device

	port    spi.PortCloser
	watched []*Pin
}

// Open initializes periph.io host drivers and the transceiver. dcfg is
// passed to nrf905.New.
func Open(cfg *Config, dcfg *nrf905.Config) (*Radio, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	return open(cfg, dcfg)
}

func open(cfg *Config, dcfg *nrf905.Config) (*Radio, error) {
	port, err := spireg.Open(cfg.SPI)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.SPI, err)
	}
	freq := cfg.Freq
	if freq == 0 {
		freq = DefaultFreq
	}
	conn, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect to SPI port: %w", err)
	}
	r := &Radio{port: port}
	var pins nrf905.Pins
	var csn nrf905.PinOut
	outs := []struct {
		name string
		dst  *nrf905.PinOut
	}{
		{cfg.CSN, &csn},
		{cfg.TRX, &pins.TRX},
		{cfg.TX, &pins.TX},
		{cfg.PWR, &pins.PWR},
	}
	for _, o := range outs {
		if o.name == "" {
			continue
		}
		p, err := pin(o.name)
		if err != nil {
			port.Close()
			return nil, err
		}
		*o.dst = p
	}
	ins := []struct {
		name string
		dst  *nrf905.PinIn
	}{
		{cfg.CD, &pins.CD},
		{cfg.DR, &pins.DR},
		{cfg.AM, &pins.AM},
	}
	for _, in := range ins {
		if in.name == "" {
			continue
		}
		p, err := pin(in.name)
		if err != nil {
			port.Close()
			return nil, err
		}
		if err := p.In(gpio.PullDown, gpio.NoEdge); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to configure pin %s: %w", in.name, err)
		}
		*in.dst = p
		if in.dst != &pins.CD {
			r.watched = append(r.watched, p)
		}
	}
	if csn != nil {
		if err := csn.Out(gpio.High); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to configure pin %s: %w", cfg.CSN, err)
		}
	}
	r.Device, err = nrf905.New(nrf905.NewTxBus(conn, csn), pins, dcfg)
	if err != nil {
		r.unwatch()
		port.Close()
		return nil, err
	}
	return r, nil
}

func pin(name string) (*Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("failed to find pin %s", name)
	}
	return &Pin{PinIO: p}, nil
}

func (r *Radio) unwatch() error {
	var errs []error
	for _, p := range r.watched {
		if err := p.Unwatch(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close powers the transceiver down, stops edge detection and closes the
// SPI port.
func (r *Radio) Close() error {
	return errors.Join(r.Device.Close(), r.unwatch(), r.port.Close())
}

// watchTimeout limits WaitForEdge so the watching goroutine can notice
// Unwatch.
const watchTimeout = 100 * time.Millisecond

// Pin adapts gpio.PinIO to nrf905.PinOut, nrf905.PinIn and nrf905.Watcher.
// periph.io has no edge callbacks, so Watch calls the handler from a
// goroutine that blocks in WaitForEdge.
type Pin struct {
	gpio.PinIO

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Watch implements nrf905.Watcher.
func (p *Pin) Watch(edge gpio.Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return fmt.Errorf("pin %s already watched", p)
	}
	if err := p.In(gpio.PullDown, edge); err != nil {
		return fmt.Errorf("failed to enable edge detection on %s: %w", p, err)
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.watch(p.stop, p.done, handler)
	return nil
}

func (p *Pin) watch(stop, done chan struct{}, handler func()) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if p.WaitForEdge(watchTimeout) {
			handler()
		}
	}
}

// Unwatch stops the goroutine started by Watch and disables edge detection.
func (p *Pin) Unwatch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return nil
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil
	return p.In(gpio.PullDown, gpio.NoEdge)
}
