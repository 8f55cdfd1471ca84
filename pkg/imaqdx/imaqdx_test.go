package imaqdx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttributes(t *testing.T) {
	attrs, err := ParseAttributes("Gain=10; ExposureTime = 2000;;Trigger=Mode=On;")
	require.NoError(t, err)
	assert.Equal(t, []Attribute{
		{Name: "Gain", Value: "10"},
		{Name: "ExposureTime", Value: "2000"},
		{Name: "Trigger", Value: "Mode=On"},
	}, attrs)

	attrs, err = ParseAttributes("")
	require.NoError(t, err)
	assert.Empty(t, attrs)

	_, err = ParseAttributes("Gain=1;Offset")
	assert.ErrorContains(t, err, `"Offset"`)
	_, err = ParseAttributes("=5")
	assert.ErrorContains(t, err, "want name=value")
}

func TestLayoutOf(t *testing.T) {
	tests := []struct {
		name   string
		format string
		bus    string
		bayer  bool
		want   Layout
		err    string
	}{
		{name: "mono8", format: "Mono 8", bus: "1394", want: Layout{BytesPerPixel: 1, BitsPerPixel: 8}},
		{name: "mono12 gige", format: "Mono 12", bus: "Ethernet", want: Layout{BytesPerPixel: 2, BitsPerPixel: 12}},
		{name: "mono12 firewire", format: "Mono 12", bus: "1394", want: Layout{BytesPerPixel: 2, BitsPerPixel: 12, Swap16: true}},
		{name: "mono14 alias", format: "Mono14", bus: "Ethernet", want: Layout{BytesPerPixel: 2, BitsPerPixel: 14}},
		{name: "bgra", format: "BGRA 8 Packed", bus: "USB3Vision", want: Layout{BytesPerPixel: 4, BitsPerPixel: 32}},
		{name: "bayer as gray", format: "Bayer GR 12", bus: "Ethernet", bayer: true, want: Layout{BytesPerPixel: 2, BitsPerPixel: 16}},
		{name: "bayer refused", format: "Bayer BG 8", bus: "Ethernet", err: "bayer_as_gray"},
		{name: "unknown", format: "YUV 422 Packed", bus: "Ethernet", err: "not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LayoutOf(tt.format, tt.bus, tt.bayer)
			if tt.err != "" {
				assert.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSwap16(t *testing.T) {
	buf := []byte{0x12, 0x34, 0xAB, 0xCD, 0xFF}
	Swap16(buf)
	assert.Equal(t, []byte{0x34, 0x12, 0xCD, 0xAB, 0xFF}, buf)
}

func TestCodeError(t *testing.T) {
	assert.Equal(t, "IMAQdx error 0xBFF69014", (&CodeError{Code: -1074360300}).Error())
	assert.Equal(t, "Camera not found (code 0xBFF69014)",
		(&CodeError{Code: -1074360300, Text: "Camera not found"}).Error())
}
