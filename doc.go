// Package peerlink implements an authenticated, encrypted point-to-point
// channel to a remote party known only by its public key.
//
// A Channel finds the remote's addresses through a discovery service, opens
// a client for each one on a shared socket, seals every payload under the
// two parties' keys and keeps each connection alive with heartbeats.
// Outbound messages are kept in an ordered queue and replayed to every
// connection that appears later, so a message sent before the remote is
// reachable is still delivered.
//
// # Getting Started
//
//	kp, _ := crypto.GenerateKeyPair()
//	remote, _ := crypto.ParseKey(peerHex)
//
//	socket, err := transport.NewUDPSocket(":0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer socket.Close()
//
//	disc, err := dht.NewLANDiscovery(dht.DefaultLANConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer disc.Close()
//
//	opts := peerlink.NewOptions()
//	opts.KeyPair = kp
//	opts.PublicKey = remote
//	opts.Socket = socket
//	opts.Discovery = disc
//	opts.OnData = func(payload []byte) {
//	    fmt.Printf("got %q\n", payload)
//	}
//
//	ch, err := peerlink.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ch.Destroy()
//
//	ch.Send([]byte("hello"))
//
//	if err := disc.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// Callbacks given in Options are in place before the channel subscribes to
// discovery. When discovery is already ready, New may connect and handle
// payloads the socket was holding before it returns, and only those
// callbacks see them.
//
// # Blacklisting
//
// A payload that fails to decrypt blacklists the address it came from for
// the life of the channel. The connection is dropped, its keepalive stops,
// and the rejected bytes are reported through OnWarn.
//
// # Delivery
//
// Delivery is best effort and depends on the socket. Messages are never
// removed from the replay queue, so a remote reachable at several addresses
// may receive the same message more than once.
//
// # Thread Safety
//
// All Channel methods are safe for concurrent use. Callbacks run on the
// socket's receive goroutine and must not block.
package peerlink
