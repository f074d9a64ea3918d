package cache

import (
	"github.com/wardendns/warden/pkg/wire"
)

// maxCNAMEHops bounds chain-following the same way the codec bounds
// compression-pointer hops.
const maxCNAMEHops = 8

// Flatten resolves a CNAME chain rooted at qname/qtype to its terminal
// records, reading only from already-cached entries (it never issues a
// query).
func (c *Cache) Flatten(qname string, qtype wire.Type) []wire.Record {
	seen := make(map[string]bool)
	name := qname
	var out []wire.Record

	for hop := 0; hop < maxCNAMEHops; hop++ {
		if seen[normalize(name)] {
			break
		}
		seen[normalize(name)] = true

		status, msg := c.Lookup(name, qtype)
		if status == PositiveHit && msg != nil {
			out = append(out, msg.Answer...)
			return out
		}

		status, msg = c.Lookup(name, wire.TypeCNAME)
		if status != PositiveHit || msg == nil || len(msg.Answer) == 0 {
			break
		}
		cn, ok := msg.Answer[0].Data.(wire.CNAMERecord)
		if !ok {
			break
		}
		out = append(out, msg.Answer[0])
		name = cn.Target
	}
	return out
}
