// Package testing provides in-memory stand-ins for the discovery service and
// shared sockets that peerlink channels depend on, for deterministic tests.
//
// # Overview
//
// [Discovery] is a fully scripted dht.Discovery: tests decide when it becomes
// ready, which announces and peers it reports, and when pending lookups
// complete. [Network] hosts simulated sockets; a client's Send is recorded in
// a delivery log and, when the destination socket exists on the same
// network, delivered synchronously to the client the destination holds for
// the sender's address.
//
// # Usage
//
//	netw := testing.NewNetwork()
//	a := netw.NewSocket("10.0.0.1:4000")
//	b := netw.NewSocket("10.0.0.2:4000")
//
//	disc := testing.NewDiscovery()
//	disc.SetReady()
//
//	// after a channel connects, inspect what it sent:
//	for _, rec := range netw.DeliveryLog() {
//	    fmt.Println(rec.From, "->", rec.To, rec.Size)
//	}
//
// Inbound bytes can also be injected directly with [Client.Deliver], which
// is how tests feed corrupt ciphertext to a channel.
package testing
