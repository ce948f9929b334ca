package yydb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/andreyvit/yydb/core"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{ErrUnsupported, CodeWrongCommand},
		{opErr("index_read", "t1", ErrUnsupported), CodeWrongCommand},
		{ErrEndOfData, CodeEndOfFile},
		{fmt.Errorf("wrapped: %w", ErrResourceExhausted), CodeOutOfMemory},
		{ErrRowNotFound, CodeKeyNotFound},
		{&core.RowSizeError{Need: 10, Have: 2}, CodeRecordTooBig},
		{opErr("rnd_next", "t1", &core.RowSizeError{Need: 10, Have: 2}), CodeRecordTooBig},
		{context.DeadlineExceeded, CodeLockWaitTimeout},
		{errors.New("disk on fire"), CodeGeneric},
		{ErrNotOpen, CodeGeneric},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if a := CodeOf(tt.err); a != tt.want {
				t.Errorf("CodeOf = %v (%d), wanted %v (%d)", a, a, tt.want, tt.want)
			}
		})
	}
}

func TestCodesAreDistinct(t *testing.T) {
	seen := map[Code]error{}
	for _, err := range []error{ErrUnsupported, ErrEndOfData, ErrResourceExhausted, ErrRowNotFound} {
		c := CodeOf(err)
		if prev, ok := seen[c]; ok {
			t.Errorf("%v and %v share code %v", prev, err, c)
		}
		seen[c] = err
	}
	deepEqual(t, int(CodeWrongCommand), 131)
	deepEqual(t, int(CodeEndOfFile), 137)
	deepEqual(t, CodeOutOfMemory.String(), "OUT_OF_MEM")
}

func TestOpError(t *testing.T) {
	inner := errors.New("inner")
	err := opErr("write_row", "t1", inner)
	deepEqual(t, err.Error(), "write_row t1: inner")
	if !errors.Is(err, inner) {
		t.Errorf("errors.Is(err, inner) = false")
	}
	deepEqual(t, opErr("open", "", ErrNotOpen).Error(), "open: handler has no open table")
	deepEqual(t, (&OpError{Op: "close"}).Error(), "close")
}
