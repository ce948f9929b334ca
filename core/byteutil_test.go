package core

import (
	"strings"
	"testing"
)

func TestHexView(t *testing.T) {
	tests := []struct {
		input []byte
		want  string
	}{
		{nil, "Hex view for buffer (0 bytes):\n\n"},
		{[]byte("Hi!\x00"), "Hex view for buffer (4 bytes):\n\n" +
			"| 00000000 | 48692100" + strings.Repeat(" ", 8) + " " +
			strings.Repeat(strings.Repeat(" ", 16)+" ", 3) +
			"| Hi!." + strings.Repeat(" ", 28) + "\n"},
	}
	for _, tt := range tests {
		if a := HexView(tt.input).String(); a != tt.want {
			t.Errorf("HexView(%q) = %q, wanted %q", tt.input, a, tt.want)
		}
	}
}

func TestHexViewRows(t *testing.T) {
	buf := make([]byte, 70)
	for i := range buf {
		buf[i] = byte('A' + i%26)
	}
	lines := strings.Split(strings.TrimSuffix(HexView(buf).String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines, wanted 2 header + 3 rows:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	for i, prefix := range []string{"| 00000000 | ", "| 00000020 | ", "| 00000040 | "} {
		if !strings.HasPrefix(lines[2+i], prefix) {
			t.Errorf("row %d = %q, wanted prefix %q", i, lines[2+i], prefix)
		}
	}
	if !strings.HasSuffix(lines[4], "| STUVWXYZ"+strings.Repeat(" ", 24)) {
		t.Errorf("last row = %q", lines[4])
	}
}

func TestRowKey(t *testing.T) {
	k := appendRowKey(nil, 0x0102030405060708)
	if a, e := hexstr(k), "0102030405060708"; a != e {
		t.Errorf("appendRowKey = %s, wanted %s", a, e)
	}
	id, ok := rowKeyID(k)
	if !ok || id != 0x0102030405060708 {
		t.Errorf("rowKeyID = %x, %v", id, ok)
	}
	if _, ok := rowKeyID([]byte{1, 2, 3}); ok {
		t.Errorf("rowKeyID accepted a short key")
	}
	if a := hexstr(nil); a != "<nil>" {
		t.Errorf("hexstr(nil) = %q", a)
	}
	if a := hexstr([]byte{}); a != "<empty>" {
		t.Errorf("hexstr(empty) = %q", a)
	}
}
