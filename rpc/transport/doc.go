// Package transport defines how dwatch moves serialized messages between
// clients and servers. Implementations live in the subpackages http, tcp and unix.
//
// Every request is addressed to a range: the client passes the range id to Send and
// the server hands it to the registered ServerHandleFunc together with the payload.
//
// Long polling:
//
//	A watch request may be answered only when its long pull ends. Server transports
//	therefore run every request in its own goroutine and never time out idle
//	connections, and client transports bound the wait with the context of Send
//	instead of a fixed read deadline.
package transport
