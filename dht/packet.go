package dht

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/opd-ai/peerlink/crypto"
)

// packetKind identifies a LAN discovery packet.
type packetKind uint8

const (
	kindAnnounce packetKind = iota + 1
	kindQuery
)

// maxPacketSize bounds a LAN discovery datagram.
const maxPacketSize = 512

var errInvalidPacket = errors.New("invalid LAN discovery packet")

// packet is the CBOR body of a LAN discovery datagram.
type packet struct {
	Kind  packetKind `cbor:"1,keyasint"`
	Node  []byte     `cbor:"2,keyasint"`
	Topic []byte     `cbor:"3,keyasint"`
	Port  uint16     `cbor:"4,keyasint,omitempty"`
}

func (p *packet) topic() crypto.TopicID {
	var t crypto.TopicID
	copy(t[:], p.Topic)
	return t
}

func encodePacket(kind packetKind, node []byte, topic crypto.TopicID, port uint16) ([]byte, error) {
	return cbor.Marshal(&packet{
		Kind:  kind,
		Node:  node,
		Topic: topic[:],
		Port:  port,
	})
}

func decodePacket(data []byte) (*packet, error) {
	if len(data) == 0 || len(data) > maxPacketSize {
		return nil, fmt.Errorf("%w: size %d", errInvalidPacket, len(data))
	}

	var p packet
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPacket, err)
	}

	switch {
	case p.Kind != kindAnnounce && p.Kind != kindQuery:
		return nil, fmt.Errorf("%w: unknown kind %d", errInvalidPacket, p.Kind)
	case len(p.Topic) != crypto.TopicSize:
		return nil, fmt.Errorf("%w: topic length %d", errInvalidPacket, len(p.Topic))
	case p.Kind == kindAnnounce && p.Port == 0:
		return nil, fmt.Errorf("%w: announce without port", errInvalidPacket)
	}

	return &p, nil
}
