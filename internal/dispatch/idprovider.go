package dispatch

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/mr-tron/base58"

	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

// IDProvider generates subscription ids. Implementations must be safe for
// concurrent use.
type IDProvider interface {
	NextID() jsonrpc.SubscriptionID
}

// RandomIntegerIDProvider hands out random numeric subscription ids.
type RandomIntegerIDProvider struct{}

func (RandomIntegerIDProvider) NextID() jsonrpc.SubscriptionID {
	var buf [8]byte
	rand.Read(buf[:])
	return jsonrpc.NumberID(binary.LittleEndian.Uint64(buf[:]))
}

// RandomStringIDProvider hands out random base58-encoded string ids.
type RandomStringIDProvider struct {
	// Length is the number of random bytes per id; 16 if zero.
	Length int
}

func (p RandomStringIDProvider) NextID() jsonrpc.SubscriptionID {
	n := p.Length
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, n)
	rand.Read(buf)
	return jsonrpc.StringID(base58.Encode(buf))
}
