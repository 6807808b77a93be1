package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Sealer encrypts a body under the session short-term keys. Implemented by
// the crypto package; nil means tail kind none.
type Sealer interface {
	Seal(msg []byte) (cipher, nonce []byte, err error)
}

// Opener is the receive-side dual of Sealer.
type Opener interface {
	Open(cipher, nonce []byte) ([]byte, error)
}

// Pack composes p.Packed from p.Meta and p.Data. Segments are packed
// body, tail, neck, head: the head goes last because it carries the other
// segments' lengths. A sealer is required when the tail kind is nacl.
func Pack(p *Packet, sealer Sealer) error {
	var body []byte
	var err error
	if p.Data == nil {
		p.Data = NewMapping()
	}
	switch p.Meta.Body {
	case BodyJSON:
		body, err = p.Data.MarshalJSON()
		if err != nil {
			return fmt.Errorf("pack body: %w", err)
		}
	case BodyNone:
		body = nil
	default:
		return fmt.Errorf("pack: unknown body kind %d", p.Meta.Body)
	}

	var tail []byte
	switch p.Meta.Tail {
	case TailNaCl:
		if sealer == nil {
			return fmt.Errorf("pack: tail kind nacl requires a sealer")
		}
		cipher, nonce, err := sealer.Seal(body)
		if err != nil {
			return fmt.Errorf("pack tail: %w", err)
		}
		body = cipher
		tail = nonce
	case TailNone:
		tail = nil
	default:
		return fmt.Errorf("pack: unknown tail kind %d", p.Meta.Tail)
	}

	var neck []byte
	switch p.Meta.Neck {
	case NeckNaCl:
		// Placeholder block; neck signing is not implemented.
		neck = make([]byte, NeckSizeNaCl)
	case NeckNone:
		neck = nil
	default:
		return fmt.Errorf("pack: unknown neck kind %d", p.Meta.Neck)
	}

	head, err := packHead(&p.Meta, len(neck), len(body), len(tail))
	if err != nil {
		return err
	}

	packed := make([]byte, 0, len(head)+len(neck)+len(body)+len(tail))
	packed = append(packed, head...)
	packed = append(packed, neck...)
	packed = append(packed, body...)
	packed = append(packed, tail...)
	p.Packed = packed
	p.Err = ""
	return nil
}

// packHead serializes the head with a placeholder length and patches the
// true length back in: hl refers to the head's own serialized size, so it
// cannot be known before serializing.
func packHead(m *Meta, nl, bl, tl int) ([]byte, error) {
	kit := NewMapping()
	kit.Set("hk", int(HeadJSON))
	kit.Set("hl", "00")
	if m.Version != Version {
		kit.Set("vn", int(m.Version))
	}
	kit.Set("pk", int(m.Kind))
	kit.Set("nk", int(m.Neck))
	kit.Set("nl", nl)
	kit.Set("bk", int(m.Body))
	kit.Set("bl", bl)
	kit.Set("tk", int(m.Tail))
	kit.Set("tl", tl)
	kit.Set("fg", fmt.Sprintf("%02x", m.packFlags()))
	if m.SrcHost != "" {
		kit.Set("sh", m.SrcHost)
	}
	if m.SrcPort != DefaultPort {
		kit.Set("sp", int(m.SrcPort))
	}
	if m.DstHost != DefaultHost {
		kit.Set("dh", m.DstHost)
	}
	if m.DstPort != DefaultPort {
		kit.Set("dp", int(m.DstPort))
	}
	if m.SrcID != 0 {
		kit.Set("sd", int(m.SrcID))
	}
	if m.DstID != 0 {
		kit.Set("dd", int(m.DstID))
	}
	if m.Sid != 0 {
		kit.Set("si", int(m.Sid))
	}
	if m.Tid != 0 {
		kit.Set("ti", int(m.Tid))
	}
	if m.Trans != TransNone {
		kit.Set("xk", int(m.Trans))
	}

	js, err := kit.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("pack head: %w", err)
	}
	head := append(js, []byte(JSONEnd)...)
	hl := len(head)
	if hl > MaxHeadLen {
		return nil, fmt.Errorf("pack head: length %d exceeds max %d", hl, MaxHeadLen)
	}
	patched := bytes.Replace(head, []byte(`"hl":"00"`),
		[]byte(fmt.Sprintf(`"hl":"%02x"`, hl)), 1)
	return patched, nil
}

// ParseOuter parses the head and splits the remaining segments. Failures
// never propagate as errors: they degrade to a recorded packet error so
// the stack can drop the packet without a transaction ever seeing it.
func ParseOuter(p *Packet) {
	packed := p.Packed
	if len(packed) == 0 {
		p.fail("packed empty, nothing to parse")
		return
	}
	if !bytes.HasPrefix(packed, []byte(headSignature)) {
		p.Meta.Head = HeadUnknown
		p.fail("unknown head kind")
		return
	}
	end := bytes.Index(packed, []byte(JSONEnd))
	if end < 0 {
		p.Meta.Head = HeadUnknown
		p.fail("missing head terminator")
		return
	}
	headSeg := packed[:end+len(JSONEnd)]

	kit := NewMapping()
	if err := kit.UnmarshalJSON(packed[:end]); err != nil {
		p.fail("malformed head: " + err.Error())
		return
	}

	m := DefaultMeta()
	var nl, bl, tl int
	var hl int
	for _, k := range kit.Keys() {
		switch k {
		case "hk":
			v, ok := kit.GetUint32(k)
			if !ok || HeadKind(v) != HeadJSON {
				p.fail("head kind does not match head field value")
				return
			}
			m.Head = HeadKind(v)
		case "hl":
			n, err := strconv.ParseUint(kit.GetString(k), 16, 8)
			if err != nil {
				p.fail("malformed head length field")
				return
			}
			hl = int(n)
		case "vn":
			v, _ := kit.GetUint32(k)
			m.Version = v
		case "pk":
			v, _ := kit.GetUint32(k)
			m.Kind = PacketKind(v)
		case "nk":
			v, _ := kit.GetUint32(k)
			m.Neck = NeckKind(v)
		case "nl":
			v, _ := kit.GetUint32(k)
			nl = int(v)
		case "bk":
			v, _ := kit.GetUint32(k)
			m.Body = BodyKind(v)
		case "bl":
			v, _ := kit.GetUint32(k)
			bl = int(v)
		case "tk":
			v, _ := kit.GetUint32(k)
			m.Tail = TailKind(v)
		case "tl":
			v, _ := kit.GetUint32(k)
			tl = int(v)
		case "fg":
			b, err := strconv.ParseUint(kit.GetString(k), 16, 8)
			if err != nil {
				p.fail("malformed flag field")
				return
			}
			m.unpackFlags(uint8(b))
		case "sh":
			m.SrcHost = kit.GetString(k)
		case "sp":
			v, _ := kit.GetUint32(k)
			m.SrcPort = uint16(v)
		case "dh":
			m.DstHost = kit.GetString(k)
		case "dp":
			v, _ := kit.GetUint32(k)
			m.DstPort = uint16(v)
		case "sd":
			v, _ := kit.GetUint32(k)
			m.SrcID = v
		case "dd":
			v, _ := kit.GetUint32(k)
			m.DstID = v
		case "si":
			v, _ := kit.GetUint32(k)
			m.Sid = v
		case "ti":
			v, _ := kit.GetUint32(k)
			m.Tid = v
		case "xk":
			v, _ := kit.GetUint32(k)
			m.Trans = TransKind(v)
		default:
			p.fail("unrecognized head field " + k)
			return
		}
	}

	if hl != len(headSeg) {
		p.fail("actual head length does not match head field value")
		return
	}
	if m.Version != Version {
		p.fail(fmt.Sprintf("incompatible version %d", m.Version))
		return
	}
	if len(packed) != hl+nl+bl+tl {
		p.fail(fmt.Sprintf("packet length %d does not equal sum of the parts %d",
			len(packed), hl+nl+bl+tl))
		return
	}
	if m.Neck == NeckNaCl && nl != NeckSizeNaCl {
		p.fail(fmt.Sprintf("neck size %d does not match kind size %d", nl, NeckSizeNaCl))
		return
	}
	if m.Tail == TailNaCl && tl != TailSizeNaCl {
		p.fail(fmt.Sprintf("tail size %d does not match kind size %d", tl, TailSizeNaCl))
		return
	}

	p.Meta = m
	p.neckSeg = packed[hl : hl+nl]
	p.bodySeg = packed[hl+nl : hl+nl+bl]
	p.tailSeg = packed[hl+nl+bl:]
	p.Data = NewMapping()
}

// VerifyNeck checks the authentication segment. The nacl neck is a zero
// placeholder in this protocol version: verification accepts it
// unconditionally and the caller is expected to have warned that framing
// is unauthenticated. Inventing a real scheme here would change the wire
// format.
func VerifyNeck(p *Packet) bool {
	switch p.Meta.Neck {
	case NeckNone:
		return true
	case NeckNaCl:
		return len(p.neckSeg) == NeckSizeNaCl
	default:
		p.fail("unknown neck kind")
		return false
	}
}

// ParseInner decrypts the tail layer if present and decodes the body. An
// opener is required when the tail kind is nacl. Unlike ParseOuter the
// failure propagates, since by this point a transaction owns the packet.
func ParseInner(p *Packet, opener Opener) error {
	if !p.Whole() {
		return errors.New(p.Err)
	}
	plain := p.bodySeg
	switch p.Meta.Tail {
	case TailNaCl:
		if opener == nil {
			p.fail("tail kind nacl requires an opener")
			return errors.New(p.Err)
		}
		out, err := opener.Open(p.bodySeg, p.tailSeg)
		if err != nil {
			p.fail("tail decrypt failed: " + err.Error())
			return errors.New(p.Err)
		}
		plain = out
	case TailNone:
	default:
		p.fail("unknown tail kind")
		return errors.New(p.Err)
	}

	switch p.Meta.Body {
	case BodyJSON:
		if len(plain) == 0 {
			p.Data = NewMapping()
			return nil
		}
		kit := NewMapping()
		if err := kit.UnmarshalJSON(plain); err != nil {
			p.fail("packet body not a mapping")
			return errors.New(p.Err)
		}
		p.Data = kit
	case BodyNone:
		if len(plain) != 0 {
			p.fail("nonempty body with body kind none")
			return errors.New(p.Err)
		}
		p.Data = NewMapping()
	default:
		p.fail("unknown body kind")
		return errors.New(p.Err)
	}
	return nil
}
