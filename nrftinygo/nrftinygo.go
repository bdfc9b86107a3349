// Package nrftinygo connects nrf905.Device to the transceiver on
// microcontrollers supported by TinyGo.
//
//	bus := machine.SPI0
//	bus.Configure(machine.SPIConfig{Frequency: 4e6, Mode: 0})
//	dev, err := nrftinygo.Open(bus, nrftinygo.Output(machine.D10),
//		nrftinygo.Pins(machine.D7, machine.D8, machine.D9,
//			machine.NoPin, machine.D2, machine.D3),
//		nil)
package nrftinygo

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"tinygo.org/x/drivers"

	"github.com/ziutek/nrf905"
)

// ErrNoCSN is returned by Open if csn is nil.
var ErrNoCSN = errors.New("nrftinygo: CSN pin required")

// Open initializes the transceiver connected to bus. machine.SPI doesn't
// handle chip select so csn is driven by the returned Device.
func Open(bus drivers.SPI, csn nrf905.PinOut, pins nrf905.Pins, cfg *nrf905.Config) (*nrf905.Device, error) {
	if csn == nil {
		return nil, ErrNoCSN
	}
	if err := csn.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("nrftinygo: CSN: %w", err)
	}
	return nrf905.New(nrf905.NewTxBus(bus, csn), pins, cfg)
}
