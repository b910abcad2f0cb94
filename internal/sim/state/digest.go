package state

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// Digest hashes the full world in a fixed order. Two states with the same
// digest step identically.
func (g *GlobalState) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteI64(h, &tmp, int64(g.T))
	digestWriteString(h, &tmp, g.BaseCcy)

	codes := g.CountryCodes()
	digestWriteI64(h, &tmp, int64(len(codes)))
	for _, code := range codes {
		c := g.Countries[code]
		digestWriteString(h, &tmp, code)
		if c == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		digestWriteString(h, &tmp, c.Ccy)
		c.EachField(func(_ string, v float64) {
			digestWriteF64(h, &tmp, v)
		})
	}

	for _, name := range LayerNames() {
		digestWriteString(h, &tmp, name)
		var m Matrix
		switch name {
		case "trade":
			m = g.Trade
		case "interbank":
			m = g.Interbank
		case "alliance":
			m = g.Alliance
		case "sanctions":
			m = g.Sanctions
		case "io":
			m = g.IO
		}
		digestMatrix(h, &tmp, m)
	}

	digestFloatMap(h, &tmp, g.Commodities)
	g.digestRules(h, &tmp)

	for _, q := range [][]Event{g.Events.Pending, g.Events.Processed} {
		digestWriteI64(h, &tmp, int64(len(q)))
		for _, e := range q {
			digestWriteString(h, &tmp, e.Kind)
			digestWriteI64(h, &tmp, int64(e.Turn))
			// encoding/json sorts map keys, so payload bytes are stable.
			b, err := json.Marshal(e.Payload)
			if err != nil {
				b = []byte("!")
			}
			digestWriteString(h, &tmp, string(b))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func (g *GlobalState) digestRules(h hashWriter, tmp *[8]byte) {
	r := &g.Rules
	keys := make([]string, 0, len(regimeFields))
	for k := range regimeFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := regimeFields[k]
		digestWriteString(h, tmp, k)
		switch {
		case f.num != nil:
			digestWriteF64(h, tmp, *f.num(&r.Regimes))
		case f.flag != nil:
			h.Write([]byte{boolByte(*f.flag(&r.Regimes))})
		default:
			digestWriteString(h, tmp, *f.str(&r.Regimes))
		}
	}
	digestWriteI64(h, tmp, r.RNGSeed)
	h.Write([]byte{boolByte(r.Invariants.BPM6), boolByte(r.Invariants.ClampInflation)})
	digestWriteString(h, tmp, r.Calendar.Epoch)
	digestWriteString(h, tmp, r.Calendar.Frequency)

	impls := make([]string, 0, len(r.ActiveImpls))
	for k := range r.ActiveImpls {
		impls = append(impls, k)
	}
	sort.Strings(impls)
	for _, k := range impls {
		digestWriteString(h, tmp, k)
		digestWriteString(h, tmp, r.ActiveImpls[k])
	}
}

func digestMatrix(h hashWriter, tmp *[8]byte, m Matrix) {
	froms := make([]string, 0, len(m))
	for from := range m {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		for _, to := range m.Targets(from) {
			digestWriteString(h, tmp, from)
			digestWriteString(h, tmp, to)
			digestWriteF64(h, tmp, m[from][to])
		}
	}
	digestWriteString(h, tmp, "")
}

func digestFloatMap(h hashWriter, tmp *[8]byte, m map[string]float64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	digestWriteI64(h, tmp, int64(len(keys)))
	for _, k := range keys {
		digestWriteString(h, tmp, k)
		digestWriteF64(h, tmp, m[k])
	}
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
