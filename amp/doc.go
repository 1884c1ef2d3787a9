// Package amp implements the box wire protocol spoken between the pool and
// its worker processes: length-prefixed key/value frames, typed command
// descriptors, a correlating host-side client, and the child-side dispatcher.
//
// The box format is fixed for interoperability with existing worker
// bootstraps: each key and value is prefixed by a 2-byte big-endian length,
// and a zero-length key terminates the box. An alternate msgpack codec is
// available for workers that prefer it; both codecs carry the same box
// semantics.
package amp
