package nrf905

import (
	"encoding/binary"
	"log/slog"
)

// Config is the initial configuration of the Device.
type Config struct {
	Channel     int // Clamped to [0, MaxChannel].
	Band        Band
	Power       Power
	LowRx       bool // Reduced power RX mode.
	AutoRetran  bool // Retransmit TX payload while in TX mode.
	CRC         CRC
	Xtal        Xtal
	OutClk      OutClk
	TxAddrSize  int    // 1 or 4, other values mean 4.
	RxAddrSize  int    // 1 or 4, other values mean 4.
	TxPayload   int    // Clamped to [0, MaxPayload].
	RxPayload   int    // Clamped to [0, MaxPayload].
	RxAddr      uint32 // Listen address.
	TxAddr      uint32

	// Polled forces polled mode even if the DR pin is connected.
	Polled bool

	Events Events

	// Clock defaults to the real clock.
	Clock Clock

	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger
}

// DefaultConfig returns configuration used by New if no config is given:
// channel 10 (433.4 MHz), +10 dBm, CRC16, 16 MHz crystal, no clock output,
// 4 byte addresses, 32 byte payloads, both addresses set to DefaultAddr.
func DefaultConfig() *Config {
	return &Config{
		Channel:    10,
		Band:       Band433,
		Power:      Pwr10,
		CRC:        CRC16,
		Xtal:       Xtal16MHz,
		OutClk:     OutClkOff,
		TxAddrSize: 4,
		RxAddrSize: 4,
		TxPayload:  MaxPayload,
		RxPayload:  MaxPayload,
		RxAddr:     DefaultAddr,
		TxAddr:     DefaultAddr,
	}
}

// Regs returns the content of the configuration register described by c.
func (c *Config) Regs() Regs {
	var r Regs
	ch := clampCh(c.Channel)
	r[regChannel] = byte(ch)
	r[regConfig1] = byte(c.Band&bandMask) | byte(c.Power&pwrMask) | byte(ch>>8)
	if c.LowRx {
		r[regConfig1] |= lowRx
	}
	if c.AutoRetran {
		r[regConfig1] |= autoRetran
	}
	r[regAddrW] = addrWidths(c.TxAddrSize, c.RxAddrSize)
	r[regRxPW] = payloadWidth(c.RxPayload)
	r[regTxPW] = payloadWidth(c.TxPayload)
	binary.LittleEndian.PutUint32(r[regRxAddr:], c.RxAddr)
	r[regConfig2] = byte(c.CRC&crcMask) | byte(c.Xtal&xtalMask) |
		byte(c.OutClk&outClkMask)
	return r
}

func addrWidth(n int) byte {
	if n != 1 {
		return 4
	}
	return 1
}

func addrWidths(tx, rx int) byte {
	return addrWidth(tx)<<4 | addrWidth(rx)
}

func payloadWidth(n int) byte {
	if n < 0 {
		return 0
	}
	if n > MaxPayload {
		return MaxPayload
	}
	return byte(n)
}

// setBits performs read-modify-write of one byte of the configuration
// register. Concurrent RMW of the same byte isn't atomic.
func (d *Device) setBits(addr, mask, val byte) {
	b := d.byteReg(addr)
	d.SetReg(addr, b&^mask|val&mask)
}

// SetChannel sets the channel number. ch is clamped to [0, MaxChannel].
// Both channel bytes are written in one conversation.
func (d *Device) SetChannel(ch int) {
	ch = clampCh(ch)
	cfg1 := d.byteReg(regConfig1)&^ch8 | byte(ch>>8)
	d.SetReg(regChannel, byte(ch), cfg1)
}

// SetBand sets the frequency band.
func (d *Device) SetBand(b Band) {
	d.setBits(regConfig1, bandMask, byte(b))
}

// SetAutoRetran enables or disables auto retransmit of the TX payload
// while in TX mode.
func (d *Device) SetAutoRetran(en bool) {
	d.setBits(regConfig1, autoRetran, flag(en, autoRetran))
}

// SetLowRx enables or disables reduced power RX mode. It saves a few mA at
// the cost of sensitivity.
func (d *Device) SetLowRx(en bool) {
	d.setBits(regConfig1, lowRx, flag(en, lowRx))
}

// SetTxPower sets the output power.
func (d *Device) SetTxPower(p Power) {
	d.setBits(regConfig1, pwrMask, byte(p))
}

// SetCRC sets the CRC mode.
func (d *Device) SetCRC(c CRC) {
	d.setBits(regConfig2, crcMask, byte(c))
}

// SetXtal sets the crystal frequency. It must match the crystal connected
// to the chip.
func (d *Device) SetXtal(x Xtal) {
	d.setBits(regConfig2, xtalMask, byte(x))
}

// SetOutClk configures the clock output.
func (d *Device) SetOutClk(c OutClk) {
	d.setBits(regConfig2, outClkMask, byte(c))
}

// SetPayloadSize sets the TX and RX payload widths. Values are clamped to
// [0, MaxPayload].
func (d *Device) SetPayloadSize(tx, rx int) {
	d.SetReg(regRxPW, payloadWidth(rx), payloadWidth(tx))
}

// SetAddrSize sets the TX and RX address widths. Supported widths are 1 and
// 4, any other value means 4.
func (d *Device) SetAddrSize(tx, rx int) {
	d.SetReg(regAddrW, addrWidths(tx, rx))
}

func flag(b bool, f byte) byte {
	if b {
		return f
	}
	return 0
}
