package repositories

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored as protobuf wire messages. Field numbers are part of
// the on-disk format and must never be reused.

type recordWriter struct {
	buf []byte
}

func (w *recordWriter) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendString(w.buf, v)
}

func (w *recordWriter) strings(num protowire.Number, values []string) {
	for _, v := range values {
		w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
		w.buf = protowire.AppendString(w.buf, v)
	}
}

func (w *recordWriter) uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, num, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
}

func (w *recordWriter) int(num protowire.Number, v int64) {
	w.uint(num, protowire.EncodeZigZag(v))
}

func (w *recordWriter) bool(num protowire.Number, v bool) {
	if v {
		w.uint(num, 1)
	}
}

func (w *recordWriter) time(num protowire.Number, t time.Time) {
	if t.IsZero() {
		return
	}
	w.int(num, t.UnixNano())
}

func (w *recordWriter) message(num protowire.Number, fill func(inner *recordWriter)) {
	var inner recordWriter
	fill(&inner)
	w.buf = protowire.AppendTag(w.buf, num, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, inner.buf)
}

// field is one decoded wire value. Bytes is only set for length-delimited
// fields, Varint only for varint ones.
type field struct {
	Num    protowire.Number
	Bytes  []byte
	Varint uint64
}

func (f field) String() string  { return string(f.Bytes) }
func (f field) Bool() bool      { return f.Varint != 0 }
func (f field) Int() int64      { return protowire.DecodeZigZag(f.Varint) }
func (f field) Time() time.Time { return time.Unix(0, f.Int()).UTC() }
func (f field) Uint() uint64    { return f.Varint }

// readRecord walks every field of b, skipping unknown wire types.
func readRecord(b []byte, visit func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := visit(field{Num: num, Varint: v}); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := visit(field{Num: num, Bytes: v}); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
