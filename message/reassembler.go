package message

import (
	"bytes"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
)

// fragmentSet buffers the SKF fragments of one in-flight message.
type fragmentSet struct {
	total     uint16
	parts     map[uint16][]byte
	firstNext protocol.PayloadType // NextPayloadType carried by fragment 1
	lastSeen  time.Time
}

// Reassembler collects RFC 7383 message fragments, keyed by the IKE
// message ID they belong to, and yields the decrypted, concatenated
// payload chain once every fragment has arrived.
type Reassembler struct {
	sets map[uint32]*fragmentSet
}

func NewReassembler() *Reassembler {
	return &Reassembler{sets: make(map[uint32]*fragmentSet)}
}

// Add decrypts one SKF fragment and folds it into the set for its
// message ID. It returns ok=true once every fragment 1..total has been
// seen, with the concatenated cleartext inner-payload chain and the
// next payload type the first fragment carried.
func (r *Reassembler) Add(m *Message, cs *crypto.CipherSuite, skA, skE []byte, logger log.Logger) (cleartext []byte, firstNext protocol.PayloadType, ok bool, err error) {
	number, total, isFrag := m.Fragment()
	if !isFrag {
		return nil, 0, false, protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "not a fragment")
	}
	dec, err := cs.VerifyDecrypt(m.raw, skA, skE, logger)
	if err != nil {
		return nil, 0, false, err
	}

	msgId := m.IkeHeader.MsgId
	set, found := r.sets[msgId]
	if !found {
		set = &fragmentSet{total: total, parts: make(map[uint16][]byte)}
		r.sets[msgId] = set
	}
	set.lastSeen = time.Now()
	set.parts[number] = dec
	if number == 1 {
		set.firstNext = m.sk.NextPayloadType()
	}
	if uint16(len(set.parts)) < set.total {
		return nil, 0, false, nil
	}

	var buf bytes.Buffer
	for i := uint16(1); i <= set.total; i++ {
		buf.Write(set.parts[i])
	}
	firstNext = set.firstNext
	delete(r.sets, msgId)
	return buf.Bytes(), firstNext, true, nil
}

// Expire drops any in-flight fragment sets older than ttl, so a partial
// fragmented message that never completes doesn't leak memory.
func (r *Reassembler) Expire(ttl time.Duration) {
	now := time.Now()
	for id, set := range r.sets {
		if now.Sub(set.lastSeen) > ttl {
			delete(r.sets, id)
		}
	}
}
