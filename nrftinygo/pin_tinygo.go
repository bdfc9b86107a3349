//go:build tinygo

package nrftinygo

import (
	"machine"

	"periph.io/x/conn/v3/gpio"

	"github.com/ziutek/nrf905"
)

// Pin adapts machine.Pin to nrf905.PinOut, nrf905.PinIn and nrf905.Watcher.
type Pin machine.Pin

// Output configures p as output.
func Output(p machine.Pin) Pin {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return Pin(p)
}

// Input configures p as input with pull-down.
func Input(p machine.Pin) Pin {
	p.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	return Pin(p)
}

func (p Pin) Out(l gpio.Level) error {
	machine.Pin(p).Set(bool(l))
	return nil
}

func (p Pin) Read() gpio.Level {
	return gpio.Level(machine.Pin(p).Get())
}

// Watch implements nrf905.Watcher. handler is called in interrupt context
// so use polled mode on targets where it can't take a mutex.
func (p Pin) Watch(edge gpio.Edge, handler func()) error {
	var c machine.PinChange
	switch edge {
	case gpio.RisingEdge:
		c = machine.PinRising
	case gpio.FallingEdge:
		c = machine.PinFalling
	case gpio.BothEdges:
		c = machine.PinToggle
	default:
		return machine.Pin(p).SetInterrupt(0, nil)
	}
	return machine.Pin(p).SetInterrupt(c, func(machine.Pin) { handler() })
}

// Pins configures the transceiver lines and returns them as nrf905.Pins.
// machine.NoPin means not connected.
func Pins(trx, tx, pwr, cd, dr, am machine.Pin) nrf905.Pins {
	var pins nrf905.Pins
	if trx != machine.NoPin {
		pins.TRX = Output(trx)
	}
	if tx != machine.NoPin {
		pins.TX = Output(tx)
	}
	if pwr != machine.NoPin {
		pins.PWR = Output(pwr)
	}
	if cd != machine.NoPin {
		pins.CD = Input(cd)
	}
	if dr != machine.NoPin {
		pins.DR = Input(dr)
	}
	if am != machine.NoPin {
		pins.AM = Input(am)
	}
	return pins
}
