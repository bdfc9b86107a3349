// Package nrftest is meant to be used to test code using nrf905.Device
// without hardware.
package nrftest

import (
	"sync"
	"time"
)

// Chip simulates the SPI side of nRF905. It implements nrf905.Driver and,
// through Tx, a full duplex bus that can stand behind nrf905.TxBus.
//
// Modify its members to simulate hardware events. Grab the Mutex before
// accessing them concurrently with the Device.
type Chip struct {
	sync.Mutex
	Regs      [10]byte
	TxAddr    [4]byte
	TxPayload [32]byte
	RxPayload [32]byte
	Status    byte // DR is bit 5, AM is bit 7.

	// Convs contains bytes sent in every conversation.
	Convs [][]byte

	// Err, if not nil, is returned by WriteRead.
	Err error
}

const (
	statDR = 1 << 5
	statAM = 1 << 7
)

// WriteRead implements nrf905.Driver.
func (c *Chip) WriteRead(oi ...[]byte) (int, error) {
	c.Lock()
	defer c.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	var w []byte
	for i := 0; i < len(oi); i += 2 {
		k := len(oi[i])
		if i+1 < len(oi) && len(oi[i+1]) > k {
			k = len(oi[i+1])
		}
		w = append(w, oi[i]...)
		for j := len(oi[i]); j < k; j++ {
			w = append(w, 0xff)
		}
	}
	r := c.exec(w)
	c.Convs = append(c.Convs, w)
	for i := 0; i < len(oi); i += 2 {
		k := len(oi[i])
		if i+1 < len(oi) {
			in := oi[i+1]
			if len(in) > k {
				k = len(in)
			}
			copy(in, r[:k])
		}
		r = r[k:]
	}
	return len(w), nil
}

// Tx performs one conversation: w is sent, the chip response is stored in
// r.
func (c *Chip) Tx(w, r []byte) error {
	c.Lock()
	defer c.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Convs = append(c.Convs, append([]byte(nil), w...))
	copy(r, c.exec(w))
	return nil
}

// Transfer performs one byte conversation.
func (c *Chip) Transfer(b byte) (byte, error) {
	r := []byte{0}
	err := c.Tx([]byte{b}, r)
	return r[0], err
}

func (c *Chip) exec(w []byte) []byte {
	r := make([]byte, len(w))
	if len(w) == 0 {
		return r
	}
	r[0] = c.Status
	cmd, data, out := w[0], w[1:], r[1:]
	switch {
	case cmd == 0xff: // NOP
	case cmd < 0x10:  // W_CONFIG
		copy(c.Regs[cmd&0x0f:], data)
	case cmd&0xf0 == 0x10: // R_CONFIG
		copy(out, c.Regs[cmd&0x0f:])
	case cmd == 0x20:
		copy(c.TxPayload[:], data)
	case cmd == 0x21:
		copy(out, c.TxPayload[:])
	case cmd == 0x22:
		copy(c.TxAddr[:], data)
	case cmd == 0x23:
		copy(out, c.TxAddr[:])
	case cmd == 0x24:
		copy(out, c.RxPayload[:])
		if len(out) >= int(c.Regs[3]&0x3f) {
			c.Status &^= statDR | statAM
		}
	case cmd&0xf0 == 0x80: // CHANNEL_CONFIG
		if len(data) > 0 {
			c.Regs[0] = data[0]
		}
		c.Regs[1] = c.Regs[1]&0xf0 | cmd&0x0f
	}
	return r
}

// SetStatus sets the status register.
func (c *Chip) SetStatus(s byte) {
	c.Lock()
	c.Status = s
	c.Unlock()
}

// Receive loads p into the RX payload and sets AM and DR.
func (c *Chip) Receive(p []byte) {
	c.Lock()
	c.RxPayload = [32]byte{}
	copy(c.RxPayload[:], p)
	c.Status |= statAM | statDR
	c.Unlock()
}

// Conversations returns a copy of Convs.
func (c *Chip) Conversations() [][]byte {
	c.Lock()
	defer c.Unlock()
	return append([][]byte(nil), c.Convs...)
}

// Reset clears Convs.
func (c *Chip) Reset() {
	c.Lock()
	c.Convs = nil
	c.Unlock()
}

// Clock implements nrf905.Clock. Every Now call advances it by Step (1 µs
// if zero), so spin waits terminate without real time passing. Sleep
// advances it by the requested duration.
type Clock struct {
	sync.Mutex
	T     time.Time
	Step  time.Duration
	Slept time.Duration // Sum of all Sleep durations.
}

// Sleep implements nrf905.Clock.
func (c *Clock) Sleep(d time.Duration) {
	c.Lock()
	c.T = c.T.Add(d)
	c.Slept += d
	c.Unlock()
}

// Now implements nrf905.Clock.
func (c *Clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	step := c.Step
	if step == 0 {
		step = time.Microsecond
	}
	c.T = c.T.Add(step)
	return c.T
}

// Since implements nrf905.Clock.
func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Elapsed returns the time passed since t without advancing the clock.
func (c *Clock) Elapsed(t time.Time) time.Duration {
	c.Lock()
	defer c.Unlock()
	return c.T.Sub(t)
}
