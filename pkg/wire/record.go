package wire

import (
	"bytes"
	"net"
)

// TTL wraps the 32-bit TTL field. Its equality and hashing deliberately
// ignore the carried value: two records that differ only in freshness are
// the same record. Seconds is exported so callers can still read/adjust it; it is
// simply excluded from comparisons.
type TTL struct {
	Seconds uint32
}

// Equal always returns true: TTL never participates in record identity.
func (TTL) Equal(TTL) bool { return true }

// RecordData is implemented by each supported rdata payload. Equal compares
// payload semantics only (never TTL, which lives on Record itself).
type RecordData interface {
	Type() Type
	Equal(RecordData) bool
}

// Record is a single resource record: an owner name, a TTL (ignored for
// equality/hash per the wrapper above), and a typed payload.
type Record struct {
	Name string // owner name, wire presentation, case preserved
	TTL  TTL
	Data RecordData
}

// Type returns the record's RRTYPE.
func (r Record) Type() Type { return r.Data.Type() }

// Equal compares two records ignoring TTL, per the wrapper contract. Name
// comparison is case-insensitive to match owner-name semantics used by the
// cache.
func (r Record) Equal(o Record) bool {
	return equalFoldASCII(r.Name, o.Name) && r.Data.Equal(o.Data)
}

// --- rdata variants -------------------------------------------------------

type ARecord struct{ IP net.IP }

func (ARecord) Type() Type { return TypeA }
func (a ARecord) Equal(o RecordData) bool {
	b, ok := o.(ARecord)
	return ok && a.IP.Equal(b.IP)
}

type AAAARecord struct{ IP net.IP }

func (AAAARecord) Type() Type { return TypeAAAA }
func (a AAAARecord) Equal(o RecordData) bool {
	b, ok := o.(AAAARecord)
	return ok && a.IP.Equal(b.IP)
}

type NSRecord struct{ Host string }

func (NSRecord) Type() Type { return TypeNS }
func (a NSRecord) Equal(o RecordData) bool {
	b, ok := o.(NSRecord)
	return ok && equalFoldASCII(a.Host, b.Host)
}

type CNAMERecord struct{ Target string }

func (CNAMERecord) Type() Type { return TypeCNAME }
func (a CNAMERecord) Equal(o RecordData) bool {
	b, ok := o.(CNAMERecord)
	return ok && equalFoldASCII(a.Target, b.Target)
}

type SOARecord struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func (SOARecord) Type() Type { return TypeSOA }
func (a SOARecord) Equal(o RecordData) bool {
	b, ok := o.(SOARecord)
	return ok && a == b
}

type MXRecord struct {
	Preference uint16
	Host       string
}

func (MXRecord) Type() Type { return TypeMX }
func (a MXRecord) Equal(o RecordData) bool {
	b, ok := o.(MXRecord)
	return ok && a.Preference == b.Preference && equalFoldASCII(a.Host, b.Host)
}

type TXTRecord struct{ Strings []string }

func (TXTRecord) Type() Type { return TypeTXT }
func (a TXTRecord) Equal(o RecordData) bool {
	b, ok := o.(TXTRecord)
	if !ok || len(a.Strings) != len(b.Strings) {
		return false
	}
	for i := range a.Strings {
		if a.Strings[i] != b.Strings[i] {
			return false
		}
	}
	return true
}

type SRVRecord struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (SRVRecord) Type() Type { return TypeSRV }
func (a SRVRecord) Equal(o RecordData) bool {
	b, ok := o.(SRVRecord)
	return ok && a.Priority == b.Priority && a.Weight == b.Weight &&
		a.Port == b.Port && equalFoldASCII(a.Target, b.Target)
}

// OPTRecord carries the EDNS0 pseudo-record: CLASS repurposed as the
// requestor's UDP payload size, and TTL repurposed as extended RCODE,
// version, and the DO (DNSSEC OK) bit.
type OPTRecord struct {
	UDPSize    uint16
	ExtRcode   uint8
	Version    uint8
	DO         bool
	RawOptions []byte
}

func (OPTRecord) Type() Type { return TypeOPT }
func (a OPTRecord) Equal(o RecordData) bool {
	b, ok := o.(OPTRecord)
	return ok && a.UDPSize == b.UDPSize && a.ExtRcode == b.ExtRcode &&
		a.Version == b.Version && a.DO == b.DO && bytes.Equal(a.RawOptions, b.RawOptions)
}

// UnknownRecord is the opaque round-trip payload for any RRTYPE this codec
// does not special-case. The raw rdata bytes are carried verbatim and never
// interpreted.
type UnknownRecord struct {
	RRType Type
	RData  []byte
}

func (u UnknownRecord) Type() Type { return u.RRType }
func (a UnknownRecord) Equal(o RecordData) bool {
	b, ok := o.(UnknownRecord)
	return ok && a.RRType == b.RRType && bytes.Equal(a.RData, b.RData)
}

func equalFoldASCII(a, b string) bool {
	return bytes.EqualFold([]byte(a), []byte(b))
}
