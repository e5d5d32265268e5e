// Package wire encodes coordination messages in the protobuf wire format
// without generated code.
package wire

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

type Marshaler interface {
	MarshalWire() ([]byte, error)
}

type Unmarshaler interface {
	UnmarshalWire(b []byte) error
}

type Encoder struct {
	b []byte
}

func (e *Encoder) Bytes() []byte {
	return e.b
}

// Uint writes a varint field, omitting zero values.
func (e *Encoder) Uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if v {
		e.Uint(num, 1)
	}
}

// String writes a length-delimited field, omitting empty values.
func (e *Encoder) String(num protowire.Number, s string) {
	if s == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

// RepeatedString writes every element, including empty ones.
func (e *Encoder) RepeatedString(num protowire.Number, values []string) {
	for _, s := range values {
		e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
		e.b = protowire.AppendString(e.b, s)
	}
}

func (e *Encoder) BytesField(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

// RepeatedBytes writes every element, including empty ones.
func (e *Encoder) RepeatedBytes(num protowire.Number, values [][]byte) {
	for _, v := range values {
		e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
		e.b = protowire.AppendBytes(e.b, v)
	}
}

// Message writes an embedded message field, always present.
func (e *Encoder) Message(num protowire.Number, m Marshaler) error {
	b, err := m.MarshalWire()
	if err != nil {
		return err
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, b)
	return nil
}

// Field is the value of one decoded field. Accessors that do not match the
// wire type leave the field unconsumed, so it is skipped.
type Field struct {
	Num protowire.Number

	typ protowire.Type
	b   []byte
	n   int
}

func (f *Field) Uint() uint64 {
	if f.typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(f.b)
	f.n = n
	return v
}

func (f *Field) Bool() bool {
	return f.Uint() != 0
}

func (f *Field) String() string {
	if f.typ != protowire.BytesType {
		return ""
	}
	v, n := protowire.ConsumeString(f.b)
	f.n = n
	return v
}

func (f *Field) Bytes() []byte {
	if f.typ != protowire.BytesType {
		return nil
	}
	v, n := protowire.ConsumeBytes(f.b)
	f.n = n
	if n < 0 {
		return nil
	}
	return append([]byte{}, v...)
}

func (f *Field) Message(m Unmarshaler) error {
	b := f.Bytes()
	if f.n <= 0 {
		return nil
	}
	return m.UnmarshalWire(b)
}

// Decode walks every field of b, handing each to fn. Unknown fields are skipped.
func Decode(b []byte, fn func(f *Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "consume tag")
		}
		b = b[n:]

		f := &Field{Num: num, typ: typ, b: b}
		if err := fn(f); err != nil {
			return errors.Wrapf(err, "field %d", num)
		}

		if f.n == 0 {
			f.n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if f.n < 0 {
			return errors.Wrapf(protowire.ParseError(f.n), "consume field %d", num)
		}
		b = b[f.n:]
	}
	return nil
}
