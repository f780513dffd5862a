package peer

import (
	"math/rand"

	"github.com/cppla-netsync/netsync/wire"
)

// handshake drives the Syncing-state SyncRequest/SyncReply exchange: send
// at a fixed interval until NumSyncPackets replies have echoed back our
// most recent random_request.
type handshake struct {
	numPackets      int
	repliesReceived int
	lastRandom      uint32
	remoteMagic     uint16
	rng             *rand.Rand
}

func newHandshake(numPackets int, seed int64) *handshake {
	return &handshake{numPackets: numPackets, rng: rand.New(rand.NewSource(seed))}
}

// NextRequest produces the next SyncRequest to send, remembering its
// random_request so a matching SyncReply can be recognized.
func (h *handshake) NextRequest(localMagic uint16, localEndpoint uint8) wire.SyncRequest {
	h.lastRandom = h.rng.Uint32()
	return wire.SyncRequest{RandomRequest: h.lastRandom, RemoteMagic: localMagic, RemoteEndpoint: localEndpoint}
}

// HandleRequest answers a peer's SyncRequest, also learning their magic.
func (h *handshake) HandleRequest(req wire.SyncRequest) wire.SyncReply {
	h.remoteMagic = req.RemoteMagic
	return wire.SyncReply{RandomReply: req.RandomRequest}
}

// HandleReply records a reply toward completion. Returns true once
// NumSyncPackets replies matching our outstanding request have arrived.
func (h *handshake) HandleReply(rep wire.SyncReply) bool {
	if rep.RandomReply != h.lastRandom {
		return false
	}
	h.repliesReceived++
	return h.repliesReceived >= h.numPackets
}

// RemoteMagic is the peer's magic, known once we have processed at least
// one of their SyncRequests.
func (h *handshake) RemoteMagic() uint16 { return h.remoteMagic }
