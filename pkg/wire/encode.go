package wire

import "encoding/binary"

// Encode serializes m into at most maxSize bytes. If the full message
// would not fit, the encoder emits as many whole records as fit — in
// section order answers, then authorities, then additionals, never
// truncating mid-record — sets the TC bit, and fixes up the section
// counts to reflect what was actually emitted.
//
// Record encoding does not use name compression; the question section
// does, since it is never subject to truncation and the saved bytes are
// worth it for the common single-question case.
func Encode(m *Message, maxSize int) ([]byte, error) {
	buf := make([]byte, 12)

	qc := newCompressor()
	for _, q := range m.Question {
		buf = encodeName(buf, q.Name, qc)
		buf = appendUint16(buf, uint16(q.Type))
		buf = appendUint16(buf, uint16(q.Class))
	}

	// Once any section is truncated, no further section may contribute
	// records — the omitted records must form a suffix of the whole
	// answers++authorities++additionals concatenation.
	var anCount, nsCount, arCount uint16
	var truncated bool

	anCount, buf, truncated = appendRecords(buf, m.Answer, maxSize)
	if !truncated {
		nsCount, buf, truncated = appendRecords(buf, m.Authority, maxSize)
	} else {
		truncated = truncated || len(m.Authority) > 0
	}
	if !truncated {
		arCount, buf, truncated = appendRecords(buf, m.Additional, maxSize)
	} else {
		truncated = truncated || len(m.Additional) > 0
	}

	header := m.Header
	header.QDCount = uint16(len(m.Question))
	header.ANCount = anCount
	header.NSCount = nsCount
	header.ARCount = arCount
	if truncated {
		header.Truncated = true
	}
	encodeHeader(buf, header)

	return buf, nil
}

// appendRecords appends as many whole records from recs as fit within
// maxSize, given the buffer already contains len(buf) bytes. It returns
// the updated buffer, the count actually emitted, and whether any record
// was omitted (meaning everything after it in the overall answers ++
// authorities ++ additionals concatenation is also omitted, per the
// "omitted records form a suffix" invariant).
func appendRecords(buf []byte, recs []Record, maxSize int) (uint16, []byte, bool) {
	if len(buf) >= maxSize {
		return 0, buf, len(recs) > 0
	}
	count := uint16(0)
	for _, r := range recs {
		candidate := encodeRecord(buf, r)
		if len(candidate) > maxSize {
			return count, buf, true
		}
		buf = candidate
		count++
	}
	return count, buf, false
}

func encodeRecord(buf []byte, r Record) []byte {
	buf = encodeName(buf, r.Name, nil)
	buf = appendUint16(buf, uint16(r.Data.Type()))

	if opt, ok := r.Data.(OPTRecord); ok {
		// OPT repurposes CLASS/TTL as UDP payload size and extended
		// RCODE/version/DO, not a class or a freshness lifetime.
		buf = appendUint16(buf, opt.UDPSize)
		var ttl uint32
		ttl |= uint32(opt.ExtRcode) << 24
		ttl |= uint32(opt.Version) << 16
		if opt.DO {
			ttl |= 0x8000
		}
		buf = appendUint32(buf, ttl)
	} else {
		buf = appendUint16(buf, uint16(ClassIN))
		buf = appendUint32(buf, r.TTL.Seconds)
	}

	lenPos := len(buf)
	buf = appendUint16(buf, 0) // placeholder rdlength
	rdataStart := len(buf)
	buf = encodeRData(buf, r.Data)
	rdlen := len(buf) - rdataStart
	binary.BigEndian.PutUint16(buf[lenPos:lenPos+2], uint16(rdlen))
	return buf
}

func encodeRData(buf []byte, data RecordData) []byte {
	switch d := data.(type) {
	case ARecord:
		ip4 := d.IP.To4()
		if ip4 == nil {
			ip4 = make([]byte, 4)
		}
		return append(buf, ip4...)

	case AAAARecord:
		ip16 := d.IP.To16()
		if ip16 == nil {
			ip16 = make([]byte, 16)
		}
		return append(buf, ip16...)

	case NSRecord:
		return encodeName(buf, d.Host, nil)

	case CNAMERecord:
		return encodeName(buf, d.Target, nil)

	case SOARecord:
		buf = encodeName(buf, d.MName, nil)
		buf = encodeName(buf, d.RName, nil)
		buf = appendUint32(buf, d.Serial)
		buf = appendUint32(buf, d.Refresh)
		buf = appendUint32(buf, d.Retry)
		buf = appendUint32(buf, d.Expire)
		buf = appendUint32(buf, d.Minimum)
		return buf

	case MXRecord:
		buf = appendUint16(buf, d.Preference)
		return encodeName(buf, d.Host, nil)

	case TXTRecord:
		for _, s := range d.Strings {
			buf = append(buf, byte(len(s)))
			buf = append(buf, s...)
		}
		return buf

	case SRVRecord:
		buf = appendUint16(buf, d.Priority)
		buf = appendUint16(buf, d.Weight)
		buf = appendUint16(buf, d.Port)
		return encodeName(buf, d.Target, nil)

	case OPTRecord:
		return append(buf, d.RawOptions...)

	case UnknownRecord:
		return append(buf, d.RData...)

	default:
		return buf
	}
}

func encodeHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.ID)

	var flags uint16
	if h.Response {
		flags |= 0x8000
	}
	flags |= uint16(h.Opcode&0x0F) << 11
	if h.Authoritative {
		flags |= 0x0400
	}
	if h.Truncated {
		flags |= 0x0200
	}
	if h.RecursionDesired {
		flags |= 0x0100
	}
	if h.RecursionAvailable {
		flags |= 0x0080
	}
	if h.Zero {
		flags |= 0x0040
	}
	if h.AuthenticData {
		flags |= 0x0020
	}
	if h.CheckingDisabled {
		flags |= 0x0010
	}
	flags |= uint16(h.Rcode) & 0x000F
	binary.BigEndian.PutUint16(buf[2:4], flags)

	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
