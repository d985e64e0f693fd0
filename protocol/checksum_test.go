package protocol

import "testing"

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		expected byte
	}{
		{
			name:     "empty body",
			body:     []byte{},
			expected: 0x00,
		},
		{
			name:     "crc8 maxim check value",
			body:     []byte("123456789"),
			expected: 0xA1,
		},
		{
			name:     "fire pulse body",
			body:     []byte{CmdFirePulse},
			expected: 0xE2,
		},
		{
			name:     "get status body",
			body:     []byte{CmdGetStatus},
			expected: 0x3F,
		},
		{
			name:     "enable body",
			body:     []byte{CmdSetEnabled, 0x01},
			expected: 0xCF,
		},
		{
			name:     "disable body",
			body:     []byte{CmdSetEnabled, 0x00},
			expected: 0x91,
		},
		{
			name:     "amplitude 60 body",
			body:     []byte{CmdSetAmplitude, 60, 0},
			expected: 0xCB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Checksum(tt.body)
			if result != tt.expected {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", result, tt.expected)
			}
		})
	}
}

func BenchmarkChecksum(b *testing.B) {
	body := make([]byte, MaxBodySize)
	for i := range body {
		body[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Checksum(body)
	}
}
