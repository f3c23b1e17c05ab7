// Package transport provides the shared-socket links peerlink channels send
// sealed payloads over.
//
// A [Socket] owns one local UDP port. Any number of channels borrow the same
// socket and ask it for a [Client] per remote host:port; inbound payloads are
// routed to the client for their source address. Channels never close a
// socket, only whoever created it does.
//
// Two implementations are provided:
//
//   - [UDPSocket]: one datagram per payload, best effort, no retransmission.
//   - [QUICSocket]: QUIC over the same port for listening and dialing, one
//     unidirectional stream per client carrying length-prefixed frames, so
//     payloads are ordered and retransmitted.
//
// Example:
//
//	sock, err := transport.NewQUICSocket(":33445", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sock.Close()
//
//	client, err := sock.Client("192.168.1.20", 33445)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client.OnData(func(data []byte) {
//	    fmt.Printf("got %d bytes\n", len(data))
//	})
//	err = client.Send(sealed)
//
// Payloads that arrive from an address before any local client exists are
// held briefly, so a client created moments later still receives them.
package transport
