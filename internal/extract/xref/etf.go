package xref

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// etfTerm is a decoded Erlang External Term Format value. Only the tags
// Mix's compile manifest actually uses are supported; anything else
// decodes to nil with an error, which the caller treats as "manifest
// shape not understood, fall back".
type etfTerm struct {
	kind  etfKind
	i     int64
	s     string       // atom or binary payload
	list  []etfTerm    // list or tuple elements
	pairs []etfPair    // map elements, insertion order preserved
	big   *big.Int
}

type etfKind int

const (
	etfInt etfKind = iota
	etfAtom
	etfBinary
	etfString // ETF "string" tag: a list of small integers encoded compactly
	etfList
	etfTuple
	etfMap
	etfNil
	etfBig
)

type etfPair struct {
	key etfTerm
	val etfTerm
}

// field returns the value of a key looked up by atom name in a decoded
// map term, or a zero term and false.
func (t etfTerm) field(name string) (etfTerm, bool) {
	if t.kind != etfMap {
		return etfTerm{}, false
	}
	for _, p := range t.pairs {
		if p.key.kind == etfAtom && p.key.s == name {
			return p.val, true
		}
	}
	return etfTerm{}, false
}

func (t etfTerm) asAtomList() []string {
	var out []string
	switch t.kind {
	case etfNil:
		return nil
	case etfList:
		for _, el := range t.list {
			if el.kind == etfAtom {
				out = append(out, el.s)
			}
		}
	}
	return out
}

const (
	tagSmallInt      = 97
	tagInt           = 98
	tagFloat         = 99
	tagAtom          = 100
	tagSmallTuple    = 104
	tagLargeTuple    = 105
	tagNil           = 106
	tagString        = 107
	tagList          = 108
	tagBinary        = 109
	tagSmallBig      = 110
	tagLargeBig      = 111
	tagNewFloat      = 70
	tagAtomUTF8      = 118
	tagSmallAtomUTF8 = 119
	tagMap           = 116
	versionMagic     = 131
)

// decodeETF decodes a single top-level term from data, which must begin
// with the 131 version byte.
func decodeETF(data []byte) (etfTerm, error) {
	if len(data) == 0 || data[0] != versionMagic {
		return etfTerm{}, fmt.Errorf("etf: missing version magic byte")
	}
	term, _, err := decodeTerm(data[1:])
	return term, err
}

func decodeTerm(b []byte) (etfTerm, []byte, error) {
	if len(b) == 0 {
		return etfTerm{}, nil, fmt.Errorf("etf: unexpected end of input")
	}
	tag := b[0]
	b = b[1:]
	switch tag {
	case tagSmallInt:
		if len(b) < 1 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated small int")
		}
		return etfTerm{kind: etfInt, i: int64(b[0])}, b[1:], nil
	case tagInt:
		if len(b) < 4 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated int")
		}
		v := int32(binary.BigEndian.Uint32(b[:4]))
		return etfTerm{kind: etfInt, i: int64(v)}, b[4:], nil
	case tagAtom, tagAtomUTF8:
		if len(b) < 2 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated atom length")
		}
		n := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if len(b) < n {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated atom body")
		}
		return etfTerm{kind: etfAtom, s: string(b[:n])}, b[n:], nil
	case tagSmallAtomUTF8:
		if len(b) < 1 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated small atom length")
		}
		n := int(b[0])
		b = b[1:]
		if len(b) < n {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated small atom body")
		}
		return etfTerm{kind: etfAtom, s: string(b[:n])}, b[n:], nil
	case tagNil:
		return etfTerm{kind: etfNil}, b, nil
	case tagString:
		if len(b) < 2 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated string length")
		}
		n := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if len(b) < n {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated string body")
		}
		return etfTerm{kind: etfString, s: string(b[:n])}, b[n:], nil
	case tagBinary:
		if len(b) < 4 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated binary length")
		}
		n := int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		if len(b) < n {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated binary body")
		}
		return etfTerm{kind: etfBinary, s: string(b[:n])}, b[n:], nil
	case tagSmallBig, tagLargeBig:
		return decodeBig(tag, b)
	case tagList:
		if len(b) < 4 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated list length")
		}
		n := int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		elems := make([]etfTerm, 0, n)
		for i := 0; i < n; i++ {
			el, rest, err := decodeTerm(b)
			if err != nil {
				return etfTerm{}, nil, err
			}
			elems = append(elems, el)
			b = rest
		}
		// Proper lists terminate in NIL; improper ones in some other term.
		// We don't need the tail for manifest decoding; consume & ignore it.
		tail, rest, err := decodeTerm(b)
		if err != nil {
			return etfTerm{}, nil, err
		}
		_ = tail
		return etfTerm{kind: etfList, list: elems}, rest, nil
	case tagSmallTuple:
		if len(b) < 1 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated small tuple arity")
		}
		n := int(b[0])
		b = b[1:]
		return decodeTupleElems(n, b)
	case tagLargeTuple:
		if len(b) < 4 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated large tuple arity")
		}
		n := int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		return decodeTupleElems(n, b)
	case tagMap:
		if len(b) < 4 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated map arity")
		}
		n := int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		pairs := make([]etfPair, 0, n)
		for i := 0; i < n; i++ {
			k, rest, err := decodeTerm(b)
			if err != nil {
				return etfTerm{}, nil, err
			}
			b = rest
			v, rest2, err := decodeTerm(b)
			if err != nil {
				return etfTerm{}, nil, err
			}
			b = rest2
			pairs = append(pairs, etfPair{key: k, val: v})
		}
		return etfTerm{kind: etfMap, pairs: pairs}, b, nil
	case tagNewFloat:
		if len(b) < 8 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated float")
		}
		return etfTerm{kind: etfInt}, b[8:], nil // floats never appear in keys we read; keep as opaque
	default:
		return etfTerm{}, nil, fmt.Errorf("etf: unsupported tag %d", tag)
	}
}

func decodeTupleElems(n int, b []byte) (etfTerm, []byte, error) {
	elems := make([]etfTerm, 0, n)
	for i := 0; i < n; i++ {
		el, rest, err := decodeTerm(b)
		if err != nil {
			return etfTerm{}, nil, err
		}
		elems = append(elems, el)
		b = rest
	}
	return etfTerm{kind: etfTuple, list: elems}, b, nil
}

func decodeBig(tag byte, b []byte) (etfTerm, []byte, error) {
	var n int
	if tag == tagSmallBig {
		if len(b) < 1 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated small big size")
		}
		n = int(b[0])
		b = b[1:]
	} else {
		if len(b) < 4 {
			return etfTerm{}, nil, fmt.Errorf("etf: truncated large big size")
		}
		n = int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
	}
	if len(b) < 1+n {
		return etfTerm{}, nil, fmt.Errorf("etf: truncated big digits")
	}
	sign := b[0]
	digits := b[1 : 1+n]
	// Digits are little-endian base-256.
	magnitude := new(big.Int)
	base := big.NewInt(256)
	for i := n - 1; i >= 0; i-- {
		magnitude.Mul(magnitude, base)
		magnitude.Add(magnitude, big.NewInt(int64(digits[i])))
	}
	if sign != 0 {
		magnitude.Neg(magnitude)
	}
	return etfTerm{kind: etfBig, big: magnitude}, b[1+n:], nil
}
