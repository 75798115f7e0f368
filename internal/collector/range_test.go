package collector

import (
	"reflect"
	"testing"
)

func TestWindows(t *testing.T) {
	got, err := Windows(100, 105, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Window{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("windows mismatch: %+v != %+v", got, want)
	}
}

func TestWindowsLastEndsAtHead(t *testing.T) {
	got, err := Windows(5, 11, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Window{{From: 5, To: 8}, {From: 9, To: 11}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("windows mismatch: %+v != %+v", got, want)
	}
	if got[1].Blocks() != 3 {
		t.Fatalf("blocks = %d, want 3", got[1].Blocks())
	}
}

func TestWindowsSingleBlock(t *testing.T) {
	got, err := Windows(21, 21, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != (Window{From: 21, To: 21}) {
		t.Fatalf("windows mismatch: %+v", got)
	}
}

func TestWindowsInvalid(t *testing.T) {
	if _, err := Windows(10, 9, 1); err == nil {
		t.Fatalf("expected error for inverted window")
	}
	if _, err := Windows(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero window size")
	}
}
