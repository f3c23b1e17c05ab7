// Package dht provides peer discovery for peerlink channels.
//
// Channels depend only on the [Discovery] interface: announce "I am reachable
// for topic T at port P", look up addresses announced under a topic, and
// subscribe to announce and per-topic peer feeds. The service is treated as
// eventually consistent and noisy, so consumers de-duplicate what they hear.
//
// # LAN Discovery
//
// [LANDiscovery] implements Discovery with UDP broadcast on the local network.
// Packets are small CBOR maps carrying a kind (announce or query), the
// sender's random node ID, a topic and, for announces, a port:
//
//	ld, err := dht.NewLANDiscovery(nil) // DefaultLANConfig
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := ld.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer ld.Close()
//
//	ld.OnPeer(topic, func(addr string) {
//	    fmt.Println("found", addr)
//	})
//	ld.Announce(topic, 33445)
//	ld.Lookup(topic, func(addrs []string) {})
//
// Received announces are cached in an expiring LRU so that lookups can answer
// from what the node has already heard. Nodes also answer queries for topics
// they announced themselves. Each source IP is rate limited, and a node
// ignores its own broadcasts by node ID.
package dht
