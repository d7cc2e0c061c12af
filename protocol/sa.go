package protocol

import "github.com/msgboxio/packets"

type AttributeType uint16

const ATTRIBUTE_TYPE_KEY_LENGTH AttributeType = 14

const MIN_LEN_ATTRIBUTE = 4

type transformAttribute struct {
	Type  AttributeType
	Value uint16
}

func decodeAttribute(b []byte) (attr *transformAttribute, used int, err error) {
	if len(b) < MIN_LEN_ATTRIBUTE {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "attribute too short")
	}
	at, _ := packets.ReadB16(b, 0)
	if AttributeType(at&0x7fff) != ATTRIBUTE_TYPE_KEY_LENGTH {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "unsupported attribute type 0x%x", at)
	}
	alen, _ := packets.ReadB16(b, 2)
	return &transformAttribute{Type: ATTRIBUTE_TYPE_KEY_LENGTH, Value: alen}, MIN_LEN_ATTRIBUTE, nil
}

const MIN_LEN_TRANSFORM = 8

func decodeTransform(b []byte) (trans *SaTransform, used int, err error) {
	if len(b) < MIN_LEN_TRANSFORM {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "transform too short")
	}
	trans = &SaTransform{}
	if last, _ := packets.ReadB8(b, 0); last == 0 {
		trans.IsLast = true
	}
	trLength, _ := packets.ReadB16(b, 2)
	if len(b) < int(trLength) || int(trLength) < MIN_LEN_TRANSFORM {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "bad transform length %d", trLength)
	}
	trType, _ := packets.ReadB8(b, 4)
	trans.Type = TransformType(trType)
	trans.TransformId, _ = packets.ReadB16(b, 6)
	rest := b[MIN_LEN_TRANSFORM:int(trLength)]
	for len(rest) > 0 {
		attr, attrUsed, attrErr := decodeAttribute(rest)
		if attrErr != nil {
			return nil, 0, attrErr
		}
		rest = rest[attrUsed:]
		if attr.Type == ATTRIBUTE_TYPE_KEY_LENGTH {
			trans.KeyLength = attr.Value
		}
	}
	return trans, int(trLength), nil
}

func encodeTransform(trans *SaTransform, isLast bool) (b []byte) {
	b = make([]byte, MIN_LEN_TRANSFORM)
	if !isLast {
		packets.WriteB8(b, 0, 3)
	}
	packets.WriteB8(b, 4, uint8(trans.Type))
	packets.WriteB16(b, 6, trans.TransformId)
	if trans.KeyLength != 0 {
		attr := make([]byte, 4)
		packets.WriteB16(attr, 0, 0x8000|uint16(ATTRIBUTE_TYPE_KEY_LENGTH))
		packets.WriteB16(attr, 2, trans.KeyLength)
		b = append(b, attr...)
	}
	packets.WriteB16(b, 2, uint16(len(b)))
	return
}

/*
    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   | Last Substruc |   RESERVED    |         Proposal Length       |
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   | Proposal Num  |  Protocol ID  |    SPI Size   |Num  Transforms|
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   ~                        SPI (variable)                         ~
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
   ~                        <Transforms>                           ~
   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
type SaProposal struct {
	IsLast       bool
	Number       uint8
	ProtocolId   ProtocolId
	Spi          []byte
	SaTransforms []*SaTransform
}

const MIN_LEN_PROPOSAL = 8

func decodeProposal(b []byte) (prop *SaProposal, used int, err error) {
	if len(b) < MIN_LEN_PROPOSAL {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "proposal too short")
	}
	prop = &SaProposal{}
	if last, _ := packets.ReadB8(b, 0); last == 0 {
		prop.IsLast = true
	}
	propLength, _ := packets.ReadB16(b, 2)
	if len(b) < int(propLength) || int(propLength) < MIN_LEN_PROPOSAL {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "bad proposal length %d", propLength)
	}
	prop.Number, _ = packets.ReadB8(b, 4)
	pId, _ := packets.ReadB8(b, 5)
	prop.ProtocolId = ProtocolId(pId)
	spiSize, _ := packets.ReadB8(b, 6)
	numTransforms, _ := packets.ReadB8(b, 7)
	used = MIN_LEN_PROPOSAL + int(spiSize)
	if len(b) < used {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "proposal spi overruns buffer")
	}
	prop.Spi = append([]byte{}, b[8:used]...)
	rest := b[used:int(propLength)]
	for len(rest) > 0 {
		trans, usedT, errT := decodeTransform(rest)
		if errT != nil {
			return nil, 0, errT
		}
		prop.SaTransforms = append(prop.SaTransforms, trans)
		rest = rest[usedT:]
		if trans.IsLast {
			break
		}
	}
	if len(prop.SaTransforms) != int(numTransforms) {
		return nil, 0, ErrF(ERR_INVALID_SYNTAX, "transform count mismatch")
	}
	return prop, int(propLength), nil
}

func encodeProposal(prop *SaProposal, isLast bool) (b []byte) {
	b = make([]byte, MIN_LEN_PROPOSAL)
	if !isLast {
		packets.WriteB8(b, 0, 2)
	}
	packets.WriteB8(b, 4, prop.Number)
	packets.WriteB8(b, 5, uint8(prop.ProtocolId))
	packets.WriteB8(b, 6, uint8(len(prop.Spi)))
	packets.WriteB8(b, 7, uint8(len(prop.SaTransforms)))
	b = append(b, prop.Spi...)
	for idx, tr := range prop.SaTransforms {
		b = append(b, encodeTransform(tr, idx == len(prop.SaTransforms)-1)...)
	}
	packets.WriteB16(b, 2, uint16(len(b)))
	return
}

type Proposals []*SaProposal

type SaPayload struct {
	*PayloadHeader
	Proposals Proposals
}

func (s *SaPayload) Type() PayloadType { return PayloadTypeSA }

func (s *SaPayload) Encode() (b []byte) {
	for idx, prop := range s.Proposals {
		b = append(b, encodeProposal(prop, idx == len(s.Proposals)-1)...)
	}
	return
}

func (s *SaPayload) Decode(b []byte) (err error) {
	for len(b) > 0 {
		prop, used, errP := decodeProposal(b)
		if errP != nil {
			return errP
		}
		s.Proposals = append(s.Proposals, prop)
		b = b[used:]
		if prop.IsLast {
			break
		}
	}
	return
}

// ProposalFromTransforms builds a single-proposal SA payload body for
// the given protocol, transform set and SPI.
func ProposalFromTransforms(prot ProtocolId, trs Transforms, spi []byte) Proposals {
	return Proposals{{
		IsLast:       true,
		Number:       1,
		ProtocolId:   prot,
		Spi:          append([]byte{}, spi...),
		SaTransforms: trs.AsList(),
	}}
}
