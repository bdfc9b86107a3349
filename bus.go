package nrf905

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// Txer is a full duplex connection. periph.io conn.Conn and
// tinygo.org/x/drivers SPI satisfy it.
type Txer interface {
	Tx(w, r []byte) error
}

// TxBus implements Driver using a Txer. Every WriteRead call is performed
// as one Tx, so the whole conversation is framed by one chip select
// assertion. If CSN is not nil it is driven low for the duration of the
// conversation, otherwise the Txer is expected to handle chip select itself.
type TxBus struct {
	Conn Txer
	CSN  PinOut

	w, r []byte
}

// NewTxBus returns TxBus using conn and optional csn pin.
func NewTxBus(conn Txer, csn PinOut) *TxBus {
	return &TxBus{Conn: conn, CSN: csn}
}

// WriteRead implements Driver interface. It isn't safe for concurrent use
// (Device serializes calls).
func (b *TxBus) WriteRead(oi ...[]byte) (n int, err error) {
	b.w = b.w[:0]
	for i := 0; i < len(oi); i += 2 {
		out := oi[i]
		var in []byte
		if i+1 < len(oi) {
			in = oi[i+1]
		}
		k := len(out)
		if len(in) > k {
			k = len(in)
		}
		b.w = append(b.w, out...)
		for j := len(out); j < k; j++ {
			b.w = append(b.w, cmdNOP)
		}
	}
	if cap(b.r) < len(b.w) {
		b.r = make([]byte, len(b.w))
	}
	b.r = b.r[:len(b.w)]
	if b.CSN != nil {
		if err = b.CSN.Out(gpio.Low); err != nil {
			return 0, fmt.Errorf("nrf905: CSN: %w", err)
		}
	}
	err = b.Conn.Tx(b.w, b.r)
	if b.CSN != nil {
		if e := b.CSN.Out(gpio.High); err == nil && e != nil {
			err = fmt.Errorf("nrf905: CSN: %w", e)
		}
	}
	if err != nil {
		return 0, err
	}
	r := b.r
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
	return len(b.w), nil
}
