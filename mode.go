package nrf905

import (
	"strconv"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Mode is the operating mode of the transceiver.
type Mode byte

const (
	PowerDown Mode = iota
	Standby
	RX
	TX
	Active // RX or TX, TX_EN isn't connected.
)

func (m Mode) String() string {
	switch m {
	case PowerDown:
		return "power-down"
	case Standby:
		return "standby"
	case RX:
		return "RX"
	case TX:
		return "TX"
	case Active:
		return "active"
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

const (
	// Standby to RX switch before this time corrupts the transmission that
	// has just started.
	txToRxDelay = 700 * time.Microsecond
	pulseDelay  = 14 * time.Microsecond
)

func (d *Device) out(p PinOut, l gpio.Level) {
	if p == nil {
		return
	}
	if err := p.Out(l); err != nil {
		d.setErr(err)
	}
}

func (d *Device) powerOn(on bool) {
	d.out(d.pins.PWR, gpio.Level(on))
}

func (d *Device) standbyMode(on bool) {
	d.out(d.pins.TRX, gpio.Level(!on))
}

func (d *Device) txMode(on bool) {
	d.out(d.pins.TX, gpio.Level(on))
}

// Mode returns the current mode. It is always read from the control lines.
// PWR_UP dominates TRX_CE which dominates TX_EN.
func (d *Device) Mode() Mode {
	if p := d.pins.PWR; p != nil && p.Read() == gpio.Low {
		return PowerDown
	}
	if p := d.pins.TRX; p != nil && p.Read() == gpio.Low {
		return Standby
	}
	if p := d.pins.TX; p != nil {
		if p.Read() == gpio.High {
			return TX
		}
		return RX
	}
	return Active
}

// PowerDown puts the transceiver into power down mode. A transmission in
// progress is aborted and the RX payload is lost. It does nothing if PWR_UP
// isn't connected.
func (d *Device) PowerDown() {
	d.powerOn(false)
	d.log.Debug("mode", "mode", PowerDown)
}

// Standby puts the transceiver into standby mode. A transmission in progress
// is completed first by the chip. Standby doesn't wait for it.
func (d *Device) Standby() {
	d.standbyMode(true)
	d.powerOn(true)
	d.log.Debug("mode", "mode", Standby)
}

// RX puts the transceiver into receive mode. A transmission in progress is
// completed first by the chip. RX doesn't wait for it.
func (d *Device) RX() {
	d.txMode(false)
	d.standbyMode(false)
	d.powerOn(true)
	d.log.Debug("mode", "mode", RX)
}

// TX starts transmission of the payload loaded by Write. next is the mode
// entered after the transmission:
//
//	Standby: the chip goes to standby when the packet has been sent. DR
//	signals the end of the transmission (TxComplete event).
//	RX: the chip goes to RX when the packet has been sent. DR isn't pulsed
//	so there is no TxComplete event.
//	any other: the chip stays in TX mode. If auto retransmit is enabled the
//	payload is sent over and over again, otherwise the carrier is
//	transmitted after the packet. Call TX again to send the payload again.
//
// If the transceiver was powered down TX blocks for 3 ms to let the chip
// power up (unless next is TX). Otherwise, if collisionAvoid is true and
// the carrier is detected, TX returns false and does nothing. TX returns
// false also if Err() != nil.
func (d *Device) TX(next Mode, collisionAvoid bool) bool {
	if d.Err() != nil {
		return false
	}
	mode := d.Mode()
	if mode == PowerDown {
		mode = Standby
		d.standbyMode(true)
		d.powerOn(true)
		if next != TX {
			d.clk.Sleep(powerUpDelay)
		}
	} else if collisionAvoid && d.AirwayBusy() {
		d.log.Debug("collision avoided", "mode", mode)
		return false
	}

	d.txMode(true)
	if mode == Standby {
		// Rising TRX_CE starts the transmission.
		d.standbyMode(false)
	}
	start := d.clk.Now()

	switch next {
	case RX:
		if mode == Standby {
			spin(d.clk, start, txToRxDelay)
		} else {
			spin(d.clk, start, pulseDelay)
		}
		d.txMode(false)
	case Standby:
		spin(d.clk, start, pulseDelay)
		d.standbyMode(true)
	}
	d.log.Debug("tx", "from", mode, "next", next)
	return d.Err() == nil
}

// AirwayBusy reports whether the carrier is detected on the current channel.
// It returns false if CD isn't connected.
func (d *Device) AirwayBusy() bool {
	return d.pins.CD != nil && d.pins.CD.Read() == gpio.High
}
