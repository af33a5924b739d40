package server

import (
	"github.com/ValentinKolb/dWatch/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request addressed to a range and returns a response.
	// If an error occurs, it should be set in the response.
	// A watch request blocks until its watcher resolves.
	Handle(rangeID uint64, req *common.Message) (resp *common.Message)
}
