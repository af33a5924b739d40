/*
Package keys implements the order-preserving key codec used by every range of the store.

A key is a table id plus one or more byte parts. The encoded form is

	[8 byte big-endian table id] { 0x12 [part, 0x00 escaped as 0x00 0xff] 0x00 0x01 }...

Two properties make the encoding useful for range partitioning and watches:

  - Order: comparing two encoded keys bytewise gives the same result as comparing
    their (table id, parts...) tuples lexicographically. Ranges are therefore simple
    [start, end) intervals over encoded bytes.
  - Prefix: the encoding of the parts [p1] is a byte prefix of the encoding of
    [p1, p2, ...]. A prefix watch or prefix Get on [p1] thus covers all keys grouped
    under p1.

Keys come in two flavours. A grouped key keeps all of its parts, a single key keeps only
the first one. Since a grouped key with exactly one part has the same bytes as a single
key, Decode reports grouped = true only when more than one part was found.

Usage:

	enc, err := keys.Encode(1, [][]byte{[]byte("01004"), []byte("0001")}, true)
	key, grouped, err := keys.Decode(enc)

All malformed input is reported as ErrMalformedKey (test with errors.Is).
*/
package keys
