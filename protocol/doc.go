// Package protocol implements the RESP2 wire format used by Redis clients,
// servers and the replication stream.
//
// Decode is resumable: given a buffer that ends in the middle of an element it
// returns ErrIncomplete without consuming anything, so callers can append more
// bytes and retry. Reader wraps this for io.Reader streams:
//
//	reader := protocol.NewReader(conn)
//	for {
//		cmd, n, err := reader.ReadCommand()
//		if err != nil {
//			break
//		}
//		// n is the encoded length of cmd, used for replication offsets
//	}
//
// Encoding is canonical: Encode(Decode(b)) == b for every well-formed b, which
// lets a master replay commands to replicas byte for byte.
package protocol
