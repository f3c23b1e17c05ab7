// Package limits provides centralized message size constants and validation
// functions for peerlink.
//
// # Message Size Hierarchy
//
//   - MaxDatagram (65507 bytes): the largest sealed payload a transport
//     carries, which is the largest IPv4 UDP payload.
//
//   - MaxMessage (65411 bytes): the largest application message a channel
//     accepts, MaxDatagram minus the Noise X overhead, so every supported
//     cipher fits its output into one datagram.
//
// # Validation Functions
//
// Each validation function checks for empty messages and size limit violations:
//
//	if err := limits.ValidateMessage(message); err != nil {
//	    if errors.Is(err, limits.ErrMessageTooLarge) {
//	        // split or reject
//	    }
//	}
package limits
