package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("PIXELPORT_DEVICE", "matrix-07")
	t.Setenv("PIXELPORT_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "device_id: ${PIXELPORT_DEVICE}", "device_id: matrix-07"},
		{"unset", "url: ${PIXELPORT_UNSET_12345}", "url: "},
		{"fallback when unset", "url: ${PIXELPORT_UNSET_12345:-redis://localhost:6379}", "url: redis://localhost:6379"},
		{"fallback ignored when set", "device_id: ${PIXELPORT_DEVICE:-fallback}", "device_id: matrix-07"},
		{"fallback when empty", "device_id: ${PIXELPORT_EMPTY:-fallback}", "device_id: fallback"},
		{"required and set", "device_id: ${PIXELPORT_DEVICE:?panel id}", "device_id: matrix-07"},
		{"several", "${PIXELPORT_DEVICE}/${PIXELPORT_UNSET_12345:-x}", "matrix-07/x"},
		{"bare dollar untouched", "cost: $5 and $PIXELPORT_DEVICE", "cost: $5 and $PIXELPORT_DEVICE"},
		{"invalid name untouched", "${1BAD}", "${1BAD}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_Required(t *testing.T) {
	t.Setenv("PIXELPORT_EMPTY", "")

	_, err := ExpandEnv("url: ${PIXELPORT_UNSET_12345:?webhook endpoint}\nbucket: ${PIXELPORT_EMPTY:?}\n")
	if err == nil {
		t.Fatal("expected error for unset required variables")
	}
	for _, want := range []string{"PIXELPORT_UNSET_12345 webhook endpoint", "PIXELPORT_EMPTY must be set"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %v, want mention of %q", err, want)
		}
	}
}
