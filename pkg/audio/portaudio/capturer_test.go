package portaudio

import (
	"testing"

	"github.com/gordonklaus/portaudio"
)

func testDevices() []*portaudio.DeviceInfo {
	return []*portaudio.DeviceInfo{
		{Name: "Built-in Output", MaxOutputChannels: 2},
		{Name: "Built-in Microphone", MaxInputChannels: 1},
		{Name: "BlackHole 2ch", MaxInputChannels: 2, MaxOutputChannels: 2},
	}
}

func TestSelectDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		streamID string
		want     string
		wantErr  bool
	}{
		{name: "exact name", streamID: "BlackHole 2ch", want: "BlackHole 2ch"},
		{name: "substring", streamID: "microphone", want: "Built-in Microphone"},
		{name: "index", streamID: "2", want: "BlackHole 2ch"},
		{name: "output-only index", streamID: "0", wantErr: true},
		{name: "out of range index", streamID: "7", wantErr: true},
		{name: "output-only name", streamID: "Built-in Output", wantErr: true},
		{name: "no match", streamID: "zoom", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := selectDevice(testDevices(), tc.streamID)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got device %q", got.Name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Name != tc.want {
				t.Errorf("got %q, want %q", got.Name, tc.want)
			}
		})
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	if c := New(); c.framesPerBuffer != DefaultFramesPerBuffer {
		t.Errorf("default frames per buffer: got %d", c.framesPerBuffer)
	}
	if c := New(WithFramesPerBuffer(480)); c.framesPerBuffer != 480 {
		t.Errorf("frames per buffer: got %d, want 480", c.framesPerBuffer)
	}
	if c := New(WithFramesPerBuffer(-1)); c.framesPerBuffer != DefaultFramesPerBuffer {
		t.Errorf("non-positive option should be ignored, got %d", c.framesPerBuffer)
	}
}
