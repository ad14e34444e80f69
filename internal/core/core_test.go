package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkTypeSupported(t *testing.T) {
	tests := []struct {
		link      LinkType
		supported bool
		name      string
	}{
		{LinkTypeNull, true, "Null/Loopback"},
		{LinkTypeEthernet, true, "Ethernet"},
		{LinkTypeCiscoHDLC, true, "Cisco HDLC"},
		{LinkType(105), false, "LinkType(105)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.supported, tt.link.Supported())
			assert.Equal(t, tt.name, tt.link.String())
		})
	}
}

func TestTransport(t *testing.T) {
	assert.True(t, TransportTCP.Reliable())
	assert.False(t, TransportUDP.Reliable())
	assert.Equal(t, "Reliable Messages", TransportTCP.ReliabilityTitle())
	assert.Equal(t, "Non-Reliable Messages", TransportUDP.ReliabilityTitle())
	assert.Equal(t, Transport(6), TransportTCP)
	assert.Equal(t, Transport(17), TransportUDP)

	tr, err := ParseTransport("udp")
	require.NoError(t, err)
	assert.Equal(t, TransportUDP, tr)

	_, err = ParseTransport("sctp")
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestProtocolString(t *testing.T) {
	assert.Equal(t, "UDP", ProtocolUDP.String())
	assert.Equal(t, "IEEE 802.3", ProtocolIEEE8023.String())
	assert.Equal(t, "Protocol(200)", Protocol(200).String())
}

func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorIdentity", func(t *testing.T) {
		wrapped := fmt.Errorf("ipv4 version is 6 not 4: %w", ErrVersionMismatch)
		assert.True(t, errors.Is(wrapped, ErrVersionMismatch))
		assert.False(t, errors.Is(wrapped, ErrHeaderLength))
	})

	t.Run("ErrorPrefix", func(t *testing.T) {
		all := []error{
			ErrFormat, ErrUnsupportedLinkType, ErrTruncated,
			ErrPacketTooShort, ErrVersionMismatch, ErrHeaderLength, ErrLengthMismatch, ErrUnexpectedProtocol,
			ErrHistogramRange, ErrHistogramBins, ErrHistogramBoundaries,
			ErrConfigInvalid, ErrDecoderNotFound,
		}
		for _, err := range all {
			assert.Contains(t, err.Error(), "analyser: ")
		}
	})
}
