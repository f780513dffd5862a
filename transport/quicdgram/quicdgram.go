// Package quicdgram implements transport.Transport over a single
// WebTransport session's unreliable datagrams. Every instance is bound to
// exactly one remote peer: a PeerConnection owns one quicdgram.Transport
// per remote, mirroring a dialed voice/control session owning one Transport
// per server connection.
package quicdgram

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"

	"github.com/cppla-netsync/netsync/transport"
)

// DialTimeout bounds the WebTransport handshake only; once connected the
// caller's own context governs the session's lifetime.
const DialTimeout = 5 * time.Second

// addr wraps the URL a session was dialed against (or accepted from) as a
// transport.Address.
type addr string

func (a addr) String() string { return string(a) }

// dgramPool reuses send buffers across calls; quic-go copies datagram
// contents internally, so a buffer is safe to return to the pool as soon
// as SendDatagram returns.
var dgramPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 1500)
		return &buf
	},
}

// Transport adapts one webtransport.Session to transport.Transport.
type Transport struct {
	session *webtransport.Session
	remote  addr

	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

// Dial opens a WebTransport session to a remote peer address (an
// "https://host:port"-form URL) with unreliable datagrams enabled. The
// TLS config is caller-supplied: peers that know each other's certificate
// fingerprint out of band should pin it here rather than skip verification.
func Dial(ctx context.Context, url string, tlsConfig *tls.Config) (*Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	d := webtransport.Dialer{
		TLSClientConfig: tlsConfig,
		QUICConfig: &quic.Config{
			EnableDatagrams: true,
		},
	}

	_, sess, err := d.Dial(dialCtx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("quicdgram: dial %s: %w", url, err)
	}

	return &Transport{session: sess, remote: addr(url)}, nil
}

// DialFastest races a Dial against every candidate URL concurrently and
// keeps the first to succeed, cancelling the rest. Useful when a peer's
// rendezvous exchange yields several reachable addresses (e.g. a direct
// LAN path and a relay fallback) and the caller wants whichever connects
// quickest rather than trying them one at a time.
func DialFastest(ctx context.Context, urls []string, tlsConfig *tls.Config) (*Transport, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("quicdgram: no candidate addresses to dial")
	}
	if len(urls) == 1 {
		return Dial(ctx, urls[0], tlsConfig)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resCh := make(chan dialResult, len(urls))
	for _, u := range urls {
		go func(url string) {
			tr, err := Dial(raceCtx, url, tlsConfig)
			resCh <- dialResult{tr: tr, err: err}
		}(u)
	}

	var firstErr error
	for range urls {
		r := <-resCh
		if r.err == nil {
			cancel()
			go drainRemaining(resCh, len(urls)-1)
			return r.tr, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return nil, fmt.Errorf("quicdgram: all %d candidates failed, first error: %w", len(urls), firstErr)
}

type dialResult struct {
	tr  *Transport
	err error
}

// drainRemaining closes out any late winners of a DialFastest race so their
// goroutines don't leak, since the caller only wants the first Transport.
func drainRemaining(resCh <-chan dialResult, n int) {
	for i := 0; i < n; i++ {
		r := <-resCh
		if r.tr != nil {
			_ = r.tr.Close()
		}
	}
}

// Accept wraps an already-upgraded server-side WebTransport session (for
// example one produced by a webtransport.Server's http.Handler) bound to
// remoteAddr, the peer's observed network address.
func Accept(sess *webtransport.Session, remoteAddr string) *Transport {
	return &Transport{session: sess, remote: addr(remoteAddr)}
}

// SendTo writes data as an unreliable datagram. The session is 1:1 with a
// peer, so addr is only checked against the bound remote as a sanity
// guard; mismatches indicate a caller bug, not a transport condition.
func (t *Transport) SendTo(to transport.Address, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("quicdgram: send on closed transport")
	}
	if to != nil && to.String() != string(t.remote) {
		return fmt.Errorf("quicdgram: send to %s on transport bound to %s", to, t.remote)
	}

	bp := dgramPool.Get().(*[]byte)
	buf := append((*bp)[:0], data...)
	err := t.session.SendDatagram(buf)
	*bp = buf
	dgramPool.Put(bp)

	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrWouldBlock, err)
	}
	return nil
}

// Recv blocks until a datagram arrives on the session or ctx is done.
func (t *Transport) Recv(ctx context.Context) (transport.Packet, error) {
	data, err := t.session.ReceiveDatagram(ctx)
	if err != nil {
		return transport.Packet{}, fmt.Errorf("quicdgram: receive: %w", err)
	}
	return transport.Packet{From: t.remote, Data: data}, nil
}

// LocalAddress returns the bound remote address: the URL passed to Dial,
// or the remoteAddr passed to Accept. It does not report a local address.
func (t *Transport) LocalAddress() transport.Address { return t.remote }

// Close tears down the underlying WebTransport session.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.session.CloseWithError(0, "closed")
}
