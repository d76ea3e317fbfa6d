package image

import (
	"bytes"
	"encoding/binary"
)

// Encoder serializes an Image back to bytes using the same layout
// Decode expects. It exists only to make the decoder testable without
// a real compiler front-end (spec.md §1 explicitly places the
// compiler out of scope).
type Encoder struct {
	buf bytes.Buffer
}

// Encode serializes img.
func Encode(img *Image) []byte {
	var e Encoder
	e.buf.Write(Signature[:])
	e.u16(uint16(img.Version))

	e.u32(uint32(len(img.Strings)))
	for _, s := range img.Strings {
		e.lenPrefixedString(s)
	}

	e.u32(uint32(len(img.Modules)))
	for _, m := range img.Modules {
		e.module(img, m)
	}

	return e.buf.Bytes()
}

func (e *Encoder) module(img *Image, m Module) {
	e.u32(uint32(indexOf(img.Strings, m.Name)))
	e.u32(uint32(indexOf(img.Strings, m.SourcePath)))

	e.u32(uint32(len(m.Literals)))
	for _, l := range m.Literals {
		e.u8(uint8(l.Kind))
		switch l.Kind {
		case LiteralInt:
			e.i64(l.Int)
		case LiteralString:
			e.u32(uint32(indexOf(img.Strings, l.Str)))
		case LiteralBool:
			e.u8(uint8(l.Int))
		}
	}

	e.u32(uint32(len(m.Methods)))
	for _, meth := range m.Methods {
		e.method(img, meth)
	}

	e.u32(uint32(m.EntryIndex))
}

func (e *Encoder) method(img *Image, m Method) {
	e.u32(uint32(m.OwnerModule))
	e.u32(uint32(indexOf(img.Strings, m.Name)))
	e.u32(uint32(indexOf(img.Strings, m.File)))
	e.u32(uint32(m.Line))

	e.u16(uint16(len(m.ArgumentNames)))
	for _, a := range m.ArgumentNames {
		e.u32(uint32(indexOf(img.Strings, a)))
	}

	e.u16(uint16(m.LocalsCount))
	e.u16(uint16(m.RegisterCount))

	e.u32(uint32(len(m.Instructions)))
	for _, ins := range m.Instructions {
		e.u8(uint8(ins.Op))
		for _, op := range ins.Operands {
			e.i32(op)
		}
	}

	e.u32(uint32(len(m.CatchTable)))
	for _, c := range m.CatchTable {
		e.u32(uint32(c.StartPC))
		e.u32(uint32(c.EndPC))
		e.u32(uint32(c.HandlerPC))
		e.u32(uint32(c.HandlerReg))
	}
}

func indexOf(strs []string, s string) int {
	for i, x := range strs {
		if x == s {
			return i
		}
	}
	return 0
}

func (e *Encoder) u8(v uint8)   { e.buf.WriteByte(v) }
func (e *Encoder) u16(v uint16) { binary.Write(&e.buf, binary.LittleEndian, v) }
func (e *Encoder) u32(v uint32) { binary.Write(&e.buf, binary.LittleEndian, v) }
func (e *Encoder) i32(v int32)  { binary.Write(&e.buf, binary.LittleEndian, v) }
func (e *Encoder) i64(v int64)  { binary.Write(&e.buf, binary.LittleEndian, v) }

func (e *Encoder) lenPrefixedString(s string) {
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}
