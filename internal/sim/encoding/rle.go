package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Run is a value repeated Len times.
type Run struct {
	Value uint16
	Len   int
}

// Runs collapses consecutive equal values.
func Runs(ids []uint16) []Run {
	var out []Run
	for _, v := range ids {
		if n := len(out); n > 0 && out[n-1].Value == v && out[n-1].Len < 1<<31 {
			out[n-1].Len++
			continue
		}
		out = append(out, Run{Value: v, Len: 1})
	}
	return out
}

// EncodeRLE encodes palette indices as base64 of (index, run) uvarint pairs.
func EncodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for _, r := range Runs(ids) {
		n := binary.PutUvarint(tmp[:], uint64(r.Value))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(r.Len))
		buf.Write(tmp[:n])
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. limit caps the decoded length; 0 means no cap.
func DecodeRLE(b64 string, limit int) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > 0xFFFF {
			return nil, fmt.Errorf("palette index too large: %d", v)
		}
		if limit > 0 && uint64(len(out))+run > uint64(limit) {
			return nil, fmt.Errorf("run overflows %d cells", limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(v))
		}
	}
	return out, nil
}
