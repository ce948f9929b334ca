package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below slog.LevelDebug; row dumps are logged at this level.
const LevelTrace = slog.LevelDebug - 4

const (
	hexViewWidth    = 32
	hexViewColWidth = 8
)

// HexView formats a row buffer as a hex dump when printed. Conversion is free;
// the dump is built only if a handler actually formats the value.
type HexView []byte

func (b HexView) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Hex view for buffer (%d bytes):\n\n", len(b))
	for i := 0; i < len(b); i += hexViewWidth {
		fmt.Fprintf(&buf, "| %08x | ", i)
		for j := 0; j < hexViewWidth; j++ {
			if i+j < len(b) {
				fmt.Fprintf(&buf, "%02x", b[i+j])
			} else {
				buf.WriteString("  ")
			}
			if j%hexViewColWidth == hexViewColWidth-1 {
				buf.WriteByte(' ')
			}
		}
		buf.WriteString("| ")
		for j := 0; j < hexViewWidth; j++ {
			switch {
			case i+j >= len(b):
				buf.WriteByte(' ')
			case b[i+j] > ' ' && b[i+j] < 0x7f:
				buf.WriteByte(b[i+j])
			default:
				buf.WriteByte('.')
			}
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

func (b HexView) LogValue() slog.Value {
	return slog.StringValue(b.String())
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

const rowKeySize = 8

func appendRowKey(buf []byte, id uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, id)
}

func rowKeyID(key []byte) (uint64, bool) {
	if len(key) != rowKeySize {
		return 0, false
	}
	return binary.BigEndian.Uint64(key), true
}
