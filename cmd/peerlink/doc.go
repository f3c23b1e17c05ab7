// Package main provides a command-line chat over a peerlink channel.
//
// Both parties run the command with each other's public key. Peers find each
// other through LAN discovery; every line typed on stdin is sent to the
// remote and every message received is printed on stdout.
//
//	peerlink -key <my secret hex> -peer <their public hex> -listen :33445
//
// Without -key a fresh key pair is generated and its public key printed.
// Settings can also come from a YAML file (-config) or PEERLINK_*
// environment variables; flags win over both.
package main
