package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleMessage() *Message {
	m := &Message{
		Header: Header{
			ID:               1234,
			RecursionDesired: true,
			Opcode:           OpcodeQuery,
		},
		Question: []Question{
			{Name: "example.com.", Type: TypeA, Class: ClassIN},
		},
		Answer: []Record{
			{Name: "example.com.", TTL: TTL{Seconds: 3600}, Data: ARecord{IP: net.ParseIP("93.184.216.34")}},
		},
	}
	m.Header.Response = true
	m.SetQuestionCounts()
	return m
}

func TestRoundTrip(t *testing.T) {
	m := sampleMessage()
	buf, err := Encode(m, 4096)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)

	require.Equal(t, m.Header.ID, decoded.Header.ID)
	require.True(t, decoded.Header.Response)
	require.Len(t, decoded.Question, 1)
	require.Equal(t, "example.com.", decoded.Question[0].Name)
	require.Len(t, decoded.Answer, 1)
	require.True(t, decoded.Answer[0].Equal(m.Answer[0]))
}

func TestTTLEqualityIgnoresValue(t *testing.T) {
	a := Record{Name: "example.com.", TTL: TTL{Seconds: 60}, Data: ARecord{IP: net.ParseIP("1.2.3.4")}}
	b := Record{Name: "example.com.", TTL: TTL{Seconds: 9999}, Data: ARecord{IP: net.ParseIP("1.2.3.4")}}
	require.True(t, a.Equal(b), "records differing only in TTL must compare equal")
}

func TestUnknownRecordRoundTrip(t *testing.T) {
	m := &Message{
		Header: Header{ID: 7, Response: true},
		Answer: []Record{
			{Name: "foo.example.", TTL: TTL{Seconds: 10}, Data: UnknownRecord{RRType: 65399, RData: []byte{0xDE, 0xAD, 0xBE, 0xEF}}},
		},
	}
	m.SetQuestionCounts()

	buf, err := Encode(m, 4096)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, decoded.Answer, 1)
	ur, ok := decoded.Answer[0].Data.(UnknownRecord)
	require.True(t, ok)
	require.EqualValues(t, 65399, ur.RRType)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, ur.RData)
}

func TestOPTRecordRoundTrip(t *testing.T) {
	m := &Message{
		Header: Header{ID: 42, Response: true},
		Additional: []Record{
			{Name: ".", Data: OPTRecord{
				UDPSize:    4096,
				ExtRcode:   1,
				Version:    0,
				DO:         true,
				RawOptions: []byte{0x00, 0x08, 0x00, 0x02, 0x00, 0x00},
			}},
		},
	}
	m.SetQuestionCounts()

	buf, err := Encode(m, 4096)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, decoded.Additional, 1)
	opt, ok := decoded.Additional[0].Data.(OPTRecord)
	require.True(t, ok)
	require.EqualValues(t, 4096, opt.UDPSize)
	require.EqualValues(t, 1, opt.ExtRcode)
	require.EqualValues(t, 0, opt.Version)
	require.True(t, opt.DO)
	require.Equal(t, []byte{0x00, 0x08, 0x00, 0x02, 0x00, 0x00}, opt.RawOptions)
}

func TestOPTRecordDOFalseRoundTrip(t *testing.T) {
	m := &Message{
		Header: Header{ID: 43, Response: true},
		Additional: []Record{
			{Name: ".", Data: OPTRecord{UDPSize: 1232, ExtRcode: 0, Version: 0, DO: false}},
		},
	}
	m.SetQuestionCounts()

	buf, err := Encode(m, 4096)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, decoded.Additional, 1)
	opt, ok := decoded.Additional[0].Data.(OPTRecord)
	require.True(t, ok)
	require.EqualValues(t, 1232, opt.UDPSize)
	require.False(t, opt.DO)
}

func TestTruncationOnEncode(t *testing.T) {
	m := &Message{Header: Header{ID: 99, Response: true}}
	for i := 0; i < 100; i++ {
		m.Answer = append(m.Answer, Record{
			Name: "example.com.",
			TTL:  TTL{Seconds: 300},
			Data: ARecord{IP: net.ParseIP("10.0.0.1")},
		})
	}
	m.SetQuestionCounts()

	buf, err := Encode(m, 200)
	require.NoError(t, err)
	require.LessOrEqual(t, len(buf), 200)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.True(t, decoded.Header.Truncated)
	require.Less(t, len(decoded.Answer), 100)
	require.EqualValues(t, len(decoded.Answer), decoded.Header.ANCount)
}

func TestDecodeRejectsForwardPointer(t *testing.T) {
	// A name at offset 12 pointing forward to offset 20 must be rejected.
	buf := make([]byte, 12)
	buf[0], buf[1] = 0, 1 // ID
	buf[5] = 1            // QDCount = 1, so the decoder parses a question name
	buf = append(buf, 0xC0, 0x14) // pointer -> offset 20, forward of itself
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	buf := make([]byte, 5) // shorter than the fixed 12-byte header
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestResultCodeUnknownMapsToNoError(t *testing.T) {
	require.Equal(t, ResultNoError, ResultCodeFromNum(9))
	require.Equal(t, ResultNoError, ResultCodeFromNum(15))
}

func TestNameCaseInsensitiveEquality(t *testing.T) {
	a := Record{Name: "Example.COM.", Data: NSRecord{Host: "ns1.example.com."}}
	b := Record{Name: "example.com.", Data: NSRecord{Host: "NS1.Example.Com."}}
	require.True(t, a.Equal(b))
}
