package wire

import (
	"encoding/binary"
	"net"
)

// Decode parses buf into a Message. It never reads past len(buf); any
// attempt to do so is reported as a malformed-packet error. If the 12-byte
// header parsed, the error is Recoverable and carries the echoed ID so the
// caller can synthesize FORMERR.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < 12 {
		return nil, malformed(ErrTruncatedBuffer, false, 0)
	}

	m := &Message{}
	m.Header.ID = binary.BigEndian.Uint16(buf[0:2])
	flags := binary.BigEndian.Uint16(buf[2:4])
	m.Header.Response = flags&0x8000 != 0
	m.Header.Opcode = Opcode((flags >> 11) & 0x0F)
	m.Header.Authoritative = flags&0x0400 != 0
	m.Header.Truncated = flags&0x0200 != 0
	m.Header.RecursionDesired = flags&0x0100 != 0
	m.Header.RecursionAvailable = flags&0x0080 != 0
	m.Header.Zero = flags&0x0040 != 0
	m.Header.AuthenticData = flags&0x0020 != 0
	m.Header.CheckingDisabled = flags&0x0010 != 0
	m.Header.Rcode = ResultCodeFromNum(uint8(flags & 0x000F))

	m.Header.QDCount = binary.BigEndian.Uint16(buf[4:6])
	m.Header.ANCount = binary.BigEndian.Uint16(buf[6:8])
	m.Header.NSCount = binary.BigEndian.Uint16(buf[8:10])
	m.Header.ARCount = binary.BigEndian.Uint16(buf[10:12])

	off := 12
	var err error

	m.Question = make([]Question, 0, m.Header.QDCount)
	for i := uint16(0); i < m.Header.QDCount; i++ {
		var q Question
		q.Name, off, err = decodeName(buf, off)
		if err != nil {
			return nil, recoverableWithID(err, m.Header.ID)
		}
		if off+4 > len(buf) {
			return nil, malformed(ErrTruncatedBuffer, true, m.Header.ID)
		}
		q.Type = Type(binary.BigEndian.Uint16(buf[off : off+2]))
		q.Class = Class(binary.BigEndian.Uint16(buf[off+2 : off+4]))
		off += 4
		m.Question = append(m.Question, q)
	}

	for _, n := range []struct {
		count uint16
		dst   *[]Record
	}{
		{m.Header.ANCount, &m.Answer},
		{m.Header.NSCount, &m.Authority},
		{m.Header.ARCount, &m.Additional},
	} {
		recs := make([]Record, 0, n.count)
		for i := uint16(0); i < n.count; i++ {
			var rec Record
			rec, off, err = decodeRecord(buf, off)
			if err != nil {
				return nil, recoverableWithID(err, m.Header.ID)
			}
			recs = append(recs, rec)
		}
		*n.dst = recs
	}

	return m, nil
}

// recoverableWithID marks an error recoverable (header parsed) and stamps
// the transaction id, overwriting any Recoverable/ID already set on a
// MalformedError and wrapping any other error in a new one.
func recoverableWithID(err error, id uint16) error {
	if me, ok := err.(*MalformedError); ok {
		me.Recoverable = true
		me.ID = id
		return me
	}
	return malformed(err, true, id)
}

func decodeRecord(buf []byte, off int) (Record, int, error) {
	name, off, err := decodeName(buf, off)
	if err != nil {
		return Record{}, 0, err
	}
	if off+10 > len(buf) {
		return Record{}, 0, malformed(ErrTruncatedBuffer, false, 0)
	}
	rrtype := Type(binary.BigEndian.Uint16(buf[off : off+2]))
	class := binary.BigEndian.Uint16(buf[off+2 : off+4])
	ttl := binary.BigEndian.Uint32(buf[off+4 : off+8])
	rdlen := int(binary.BigEndian.Uint16(buf[off+8 : off+10]))
	off += 10

	if off+rdlen > len(buf) {
		return Record{}, 0, malformed(ErrTruncatedBuffer, false, 0)
	}
	rdata := buf[off : off+rdlen]
	rdataEnd := off + rdlen

	data, err := decodeRData(buf, off, rdlen, rrtype, class, ttl, rdata)
	if err != nil {
		return Record{}, 0, err
	}

	return Record{Name: name, TTL: TTL{Seconds: ttl}, Data: data}, rdataEnd, nil
}

func decodeRData(buf []byte, off, rdlen int, rrtype Type, class uint16, ttl uint32, rdata []byte) (RecordData, error) {
	switch rrtype {
	case TypeA:
		if rdlen != 4 {
			return nil, malformed(ErrMalformed, false, 0)
		}
		ip := make(net.IP, 4)
		copy(ip, rdata)
		return ARecord{IP: ip}, nil

	case TypeAAAA:
		if rdlen != 16 {
			return nil, malformed(ErrMalformed, false, 0)
		}
		ip := make(net.IP, 16)
		copy(ip, rdata)
		return AAAARecord{IP: ip}, nil

	case TypeNS:
		host, _, err := decodeName(buf, off)
		if err != nil {
			return nil, err
		}
		return NSRecord{Host: host}, nil

	case TypeCNAME:
		target, _, err := decodeName(buf, off)
		if err != nil {
			return nil, err
		}
		return CNAMERecord{Target: target}, nil

	case TypeSOA:
		return decodeSOA(buf, off, rdlen)

	case TypeMX:
		if len(rdata) < 2 {
			return nil, malformed(ErrTruncatedBuffer, false, 0)
		}
		pref := binary.BigEndian.Uint16(rdata[0:2])
		host, _, err := decodeName(buf, off+2)
		if err != nil {
			return nil, err
		}
		return MXRecord{Preference: pref, Host: host}, nil

	case TypeTXT:
		return decodeTXT(rdata)

	case TypeSRV:
		if len(rdata) < 6 {
			return nil, malformed(ErrTruncatedBuffer, false, 0)
		}
		target, _, err := decodeName(buf, off+6)
		if err != nil {
			return nil, err
		}
		return SRVRecord{
			Priority: binary.BigEndian.Uint16(rdata[0:2]),
			Weight:   binary.BigEndian.Uint16(rdata[2:4]),
			Port:     binary.BigEndian.Uint16(rdata[4:6]),
			Target:   target,
		}, nil

	case TypeOPT:
		// The OPT pseudo-record repurposes CLASS as the requestor's UDP
		// payload size and TTL as extended RCODE (high byte), version (next
		// byte), and flags (low 16 bits, DO is bit 0x8000).
		return OPTRecord{
			UDPSize:    class,
			ExtRcode:   uint8(ttl >> 24),
			Version:    uint8(ttl >> 16),
			DO:         ttl&0x8000 != 0,
			RawOptions: append([]byte(nil), rdata...),
		}, nil

	default:
		// Unknown types round-trip opaquely: raw rdata bytes are kept,
		// never interpreted.
		return UnknownRecord{RRType: rrtype, RData: append([]byte(nil), rdata...)}, nil
	}
}

func decodeSOA(buf []byte, off, rdlen int) (RecordData, error) {
	mname, next, err := decodeName(buf, off)
	if err != nil {
		return nil, err
	}
	rname, next, err := decodeName(buf, next)
	if err != nil {
		return nil, err
	}
	if next+20 > len(buf) {
		return nil, malformed(ErrTruncatedBuffer, false, 0)
	}
	return SOARecord{
		MName:   mname,
		RName:   rname,
		Serial:  binary.BigEndian.Uint32(buf[next : next+4]),
		Refresh: binary.BigEndian.Uint32(buf[next+4 : next+8]),
		Retry:   binary.BigEndian.Uint32(buf[next+8 : next+12]),
		Expire:  binary.BigEndian.Uint32(buf[next+12 : next+16]),
		Minimum: binary.BigEndian.Uint32(buf[next+16 : next+20]),
	}, nil
}

func decodeTXT(rdata []byte) (RecordData, error) {
	var strs []string
	i := 0
	for i < len(rdata) {
		l := int(rdata[i])
		i++
		if i+l > len(rdata) {
			return nil, malformed(ErrTruncatedBuffer, false, 0)
		}
		strs = append(strs, string(rdata[i:i+l]))
		i += l
	}
	return TXTRecord{Strings: strs}, nil
}
