package nrf905

import "encoding/binary"

// Instruction set.
const (
	cmdWConfig    = 0x00
	cmdRConfig    = 0x10
	cmdWTxPayload = 0x20
	cmdRTxPayload = 0x21
	cmdWTxAddr    = 0x22
	cmdRTxAddr    = 0x23
	cmdRRxPayload = 0x24
	cmdChanConfig = 0x80
	cmdNOP        = 0xff
)

// cmd performs one SPI conversation: it sends c followed by out and reads
// the response into in. It returns the status register.
func (d *Device) cmd(c byte, out, in []byte) Stat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cmdLocked(c, out, in)
}

func (d *Device) cmdLocked(c byte, out, in []byte) Stat {
	if d.Err() != nil {
		return 0
	}
	buf := []byte{c}
	var err error
	if out == nil && in == nil {
		_, err = d.drv.WriteRead(buf, buf)
	} else {
		_, err = d.drv.WriteRead(buf, buf, out, in)
	}
	if err != nil {
		d.setErr(err)
		return 0
	}
	return Stat(buf[0])
}

// Reg invokes R_CONFIG command. It reads len(val) bytes of the
// configuration register starting from addr.
func (d *Device) Reg(addr byte, val []byte) Stat {
	return d.cmd(cmdRConfig|addr, nil, val)
}

// SetReg invokes W_CONFIG command. It writes val to the configuration
// register starting from addr.
func (d *Device) SetReg(addr byte, val ...byte) Stat {
	return d.cmd(cmdWConfig|addr, val, nil)
}

func (d *Device) byteReg(addr byte) byte {
	var buf [1]byte
	d.Reg(addr, buf[:])
	return buf[0]
}

// NOP invokes NOP command. It can be used to read the status register.
func (d *Device) NOP() Stat {
	return d.cmd(cmdNOP, nil, nil)
}

// Status returns the content of the status register.
func (d *Device) Status() Stat {
	return d.NOP()
}

// WriteTxP invokes W_TX_PAYLOAD command. Only the first MaxPayload bytes
// of p are written.
func (d *Device) WriteTxP(p []byte) Stat {
	if len(p) > MaxPayload {
		p = p[:MaxPayload]
	}
	return d.cmd(cmdWTxPayload, p, nil)
}

// TxP invokes R_TX_PAYLOAD command. It reads at most MaxPayload bytes
// into p and returns the number of bytes read.
func (d *Device) TxP(p []byte) (int, Stat) {
	if len(p) > MaxPayload {
		p = p[:MaxPayload]
	}
	return len(p), d.cmd(cmdRTxPayload, nil, p)
}

// ReadRxP invokes R_RX_PAYLOAD command. It reads at most MaxPayload bytes
// into p and returns the number of bytes read. DR is cleared by the chip
// after the whole payload is read.
func (d *Device) ReadRxP(p []byte) (int, Stat) {
	if len(p) > MaxPayload {
		p = p[:MaxPayload]
	}
	return len(p), d.cmd(cmdRRxPayload, nil, p)
}

func (d *Device) setAddr(c byte, a uint32) Stat {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], a)
	return d.cmd(c, buf[:], nil)
}

func (d *Device) addr(c byte) uint32 {
	var buf [4]byte
	d.cmd(c, nil, buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

// SetTxAddr invokes W_TX_ADDRESS command.
func (d *Device) SetTxAddr(a uint32) Stat {
	return d.setAddr(cmdWTxAddr, a)
}

// TxAddr invokes R_TX_ADDRESS command.
func (d *Device) TxAddr() uint32 {
	return d.addr(cmdRTxAddr)
}

// SetRxAddr sets the address the device listens on (RX_ADDRESS).
func (d *Device) SetRxAddr(a uint32) Stat {
	return d.setAddr(cmdWConfig|regRxAddr, a)
}

// RxAddr returns the address the device listens on (RX_ADDRESS).
func (d *Device) RxAddr() uint32 {
	return d.addr(cmdRConfig | regRxAddr)
}

// ChanConfig invokes CHANNEL_CONFIG command which sets the channel, band
// and output power in one two-byte instruction. ch is clamped to
// [0, MaxChannel].
func (d *Device) ChanConfig(ch int, b Band, p Power) Stat {
	ch = clampCh(ch)
	c := cmdChanConfig | byte(p&pwrMask) | byte(b&bandMask) | byte(ch>>8)
	return d.cmd(c, []byte{byte(ch)}, nil)
}

// Regs returns the content of the whole configuration register.
func (d *Device) Regs() Regs {
	var r Regs
	d.Reg(0, r[:])
	return r
}

// Write sets the TX address to and loads p into the TX payload. Only the
// first MaxPayload bytes of p are written. If p is empty only the address
// is set. Use TX to transmit.
func (d *Device) Write(to uint32, p []byte) {
	d.SetTxAddr(to)
	if len(p) > 0 {
		d.WriteTxP(p)
	}
}

// Read reads the received payload into p. It returns the number of bytes
// read, which is min(len(p), MaxPayload).
func (d *Device) Read(p []byte) int {
	n, _ := d.ReadRxP(p)
	return n
}
