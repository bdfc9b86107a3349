package nrf905

import (
	"encoding/binary"
	"strconv"

	"periph.io/x/conn/v3/physic"
)

// Configuration register layout.
const (
	regChannel = 0
	regConfig1 = 1
	regAddrW   = 2
	regRxPW    = 3
	regTxPW    = 4
	regRxAddr  = 5
	regConfig2 = 9

	// RegCount is the size of the configuration register.
	RegCount = 10
)

// Stat is the value of the status register, returned as the first byte of
// every SPI conversation.
type Stat byte

const (
	DR Stat = 1 << 5 // Data Ready.
	AM Stat = 1 << 7 // Address Match.
)

func flags(f string, mask, b byte) string {
	buf := make([]byte, len(f))
	m := byte(0x80)
	for i := range buf {
		if f[i] == '+' {
			for mask&m == 0 {
				m >>= 1
			}
			if b&m == 0 {
				buf[i] = '-'
			} else {
				buf[i] = '+'
			}
			m >>= 1
		} else {
			buf[i] = f[i]
		}
	}
	return string(buf)
}

func (s Stat) String() string {
	return flags("AM+ DR+", byte(AM|DR), byte(s))
}

// Band selects the PLL frequency band (HFREQ_PLL bit of CONFIG1).
type Band byte

const (
	Band433 Band = 0x00
	Band868 Band = 0x02
	Band915 Band = 0x02

	bandMask = 0x02
)

func (b Band) String() string {
	if b&bandMask == 0 {
		return "433MHz"
	}
	return "868/915MHz"
}

// Power is the output power of the transmitter (PA_PWR bits of CONFIG1).
type Power byte

const (
	PwrM10 Power = 0x00 // -10 dBm
	PwrM2  Power = 0x04 // -2 dBm
	Pwr6   Power = 0x08 // +6 dBm
	Pwr10  Power = 0x0c // +10 dBm

	pwrMask = 0x0c
)

// Pwr returns the highest supported power that doesn't exceed dbm. Values
// below -10 dBm are rounded up to -10 dBm.
func Pwr(dbm int) Power {
	switch {
	case dbm >= 10:
		return Pwr10
	case dbm >= 6:
		return Pwr6
	case dbm >= -2:
		return PwrM2
	}
	return PwrM10
}

// DBm returns p in dBm.
func (p Power) DBm() int {
	return [...]int{-10, -2, 6, 10}[p&pwrMask>>2]
}

func (p Power) String() string {
	return strconv.Itoa(p.DBm()) + "dBm"
}

// Bits of CONFIG1 other than CH_NO[8], HFREQ_PLL and PA_PWR.
const (
	ch8        = 0x01
	lowRx      = 0x10
	autoRetran = 0x20
)

// CRC selects the CRC mode (CRC_MODE and CRC_EN bits of CONFIG2).
type CRC byte

const (
	CRCOff CRC = 0x00
	CRC8   CRC = 0x40
	CRC16  CRC = 0xc0

	crcMask = 0xc0
)

func (c CRC) String() string {
	switch c & crcMask {
	case CRC8:
		return "CRC8"
	case CRC16:
		return "CRC16"
	}
	return "CRCoff"
}

// Xtal is the frequency of the crystal connected to the chip (XOF bits of
// CONFIG2).
type Xtal byte

const (
	Xtal4MHz  Xtal = 0x00
	Xtal8MHz  Xtal = 0x08
	Xtal12MHz Xtal = 0x10
	Xtal16MHz Xtal = 0x18
	Xtal20MHz Xtal = 0x20

	xtalMask = 0x38
)

// Freq returns the crystal frequency.
func (x Xtal) Freq() physic.Frequency {
	return physic.Frequency(x&xtalMask>>3+1) * 4 * physic.MegaHertz
}

func (x Xtal) String() string {
	return x.Freq().String()
}

// OutClk configures the clock output for an external microcontroller
// (UP_CLK_EN and UP_CLK_FREQ bits of CONFIG2).
type OutClk byte

const (
	OutClkOff    OutClk = 0x00
	OutClk4MHz   OutClk = 0x04
	OutClk2MHz   OutClk = 0x05
	OutClk1MHz   OutClk = 0x06
	OutClk500kHz OutClk = 0x07

	outClkMask = 0x07
)

// Freq returns the frequency of the clock output or 0 if it is disabled.
func (c OutClk) Freq() physic.Frequency {
	if c&0x04 == 0 {
		return 0
	}
	return 4 * physic.MegaHertz >> (c & 0x03)
}

func (c OutClk) String() string {
	if c&0x04 == 0 {
		return "off"
	}
	return c.Freq().String()
}

// MaxChannel is the highest channel number.
const MaxChannel = 511

// Channel returns the channel closest to the frequency f in band b.
// The result is clamped to [0, MaxChannel].
func Channel(f physic.Frequency, b Band) int {
	if b&bandMask != 0 {
		f /= 2
	}
	f -= 422400 * physic.KiloHertz
	return clampCh(int((f + 50*physic.KiloHertz) / (100 * physic.KiloHertz)))
}

// ChannelFreq returns the center frequency of channel ch in band b:
// (422.4 MHz + ch * 100 kHz) * (1 + HFREQ_PLL).
func ChannelFreq(ch int, b Band) physic.Frequency {
	f := 422400*physic.KiloHertz + physic.Frequency(clampCh(ch))*100*physic.KiloHertz
	if b&bandMask != 0 {
		f *= 2
	}
	return f
}

func clampCh(ch int) int {
	if ch < 0 {
		return 0
	}
	if ch > MaxChannel {
		return MaxChannel
	}
	return ch
}

// Regs is the content of the configuration register.
type Regs [RegCount]byte

// Ch returns the channel number (CH_NO).
func (r Regs) Ch() int {
	return int(r[regConfig1]&ch8)<<8 | int(r[regChannel])
}

// Band returns the frequency band (HFREQ_PLL).
func (r Regs) Band() Band {
	return Band(r[regConfig1] & bandMask)
}

// Power returns the output power (PA_PWR).
func (r Regs) Power() Power {
	return Power(r[regConfig1] & pwrMask)
}

// LowRx reports whether reduced power RX mode is enabled (RX_RED_PWR).
func (r Regs) LowRx() bool {
	return r[regConfig1]&lowRx != 0
}

// AutoRetran reports whether auto retransmit is enabled (AUTO_RETRAN).
func (r Regs) AutoRetran() bool {
	return r[regConfig1]&autoRetran != 0
}

// AddrSize returns the TX and RX address widths in bytes.
func (r Regs) AddrSize() (tx, rx int) {
	return int(r[regAddrW] >> 4 & 0x07), int(r[regAddrW] & 0x07)
}

// PayloadSize returns the TX and RX payload widths in bytes.
func (r Regs) PayloadSize() (tx, rx int) {
	return int(r[regTxPW] & 0x3f), int(r[regRxPW] & 0x3f)
}

// RxAddr returns the device's own (listen) address.
func (r Regs) RxAddr() uint32 {
	return binary.LittleEndian.Uint32(r[regRxAddr:])
}

func (r Regs) CRC() CRC {
	return CRC(r[regConfig2] & crcMask)
}

func (r Regs) Xtal() Xtal {
	return Xtal(r[regConfig2] & xtalMask)
}

func (r Regs) OutClk() OutClk {
	return OutClk(r[regConfig2] & outClkMask)
}

// Freq returns the center frequency of the configured channel.
func (r Regs) Freq() physic.Frequency {
	return ChannelFreq(r.Ch(), r.Band())
}

func (r Regs) String() string {
	atx, arx := r.AddrSize()
	ptx, prx := r.PayloadSize()
	return "Ch:" + strconv.Itoa(r.Ch()) +
		" (" + r.Freq().String() + ")" +
		" Band:" + r.Band().String() +
		" Pwr:" + r.Power().String() +
		flags(" AutoRetran+ LowRx+", autoRetran|lowRx, r[regConfig1]) +
		" AW:" + strconv.Itoa(atx) + "/" + strconv.Itoa(arx) +
		" PW:" + strconv.Itoa(ptx) + "/" + strconv.Itoa(prx) +
		" RxAddr:0x" + strconv.FormatUint(uint64(r.RxAddr()), 16) +
		" " + r.CRC().String() +
		" Xtal:" + r.Xtal().String() +
		" OutClk:" + r.OutClk().String()
}
