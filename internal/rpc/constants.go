package rpc

import "fmt"

// RPC program numbers.
const (
	ProgramPortmap = 100000
	ProgramNFS     = 100003
	ProgramMount   = 100005
	ProgramNLM     = 100021
	ProgramNSM     = 100024
	ProgramNFSACL  = 100227
)

// Message types.
const (
	MsgCall  = 0
	MsgReply = 1
)

// Reply states.
const (
	ReplyAccepted = 0
	ReplyDenied   = 1
)

// Accept states of an accepted reply.
const (
	AcceptSuccess      = 0
	AcceptProgUnavail  = 1
	AcceptProgMismatch = 2
	AcceptProcUnavail  = 3
	AcceptGarbageArgs  = 4
	AcceptSystemErr    = 5
)

// Reject states of a denied reply.
const (
	RejectRPCMismatch = 0
	RejectAuthError   = 1
)

// Authentication flavors.
const (
	AuthNull  = 0
	AuthUnix  = 1
	AuthShort = 2
	AuthDES   = 3
	AuthKRB4  = 4
	AuthGSS   = 6
	AuthTLS   = 7
)

// RPCVersion is the only ONC RPC version in use.
const RPCVersion = 2

// maxAuthBody is the limit on credential and verifier bodies.
const maxAuthBody = 400

var programNames = map[uint32]string{
	ProgramPortmap: "PORTMAP",
	ProgramNFS:     "NFS",
	ProgramMount:   "MOUNT",
	ProgramNLM:     "NLM",
	ProgramNSM:     "NSM",
	ProgramNFSACL:  "NFSACL",
}

var acceptNames = map[uint32]string{
	AcceptSuccess:      "SUCCESS",
	AcceptProgUnavail:  "PROG_UNAVAIL",
	AcceptProgMismatch: "PROG_MISMATCH",
	AcceptProcUnavail:  "PROC_UNAVAIL",
	AcceptGarbageArgs:  "GARBAGE_ARGS",
	AcceptSystemErr:    "SYSTEM_ERR",
}

var rejectNames = map[uint32]string{
	RejectRPCMismatch: "RPC_MISMATCH",
	RejectAuthError:   "AUTH_ERROR",
}

var flavorNames = map[uint32]string{
	AuthNull:  "AUTH_NULL",
	AuthUnix:  "AUTH_SYS",
	AuthShort: "AUTH_SHORT",
	AuthDES:   "AUTH_DH",
	AuthKRB4:  "AUTH_KERB4",
	AuthGSS:   "RPCSEC_GSS",
	AuthTLS:   "AUTH_TLS",
}

// ProgramName returns the name of an RPC program.
func ProgramName(prog uint32) string {
	return lookup(programNames, prog)
}

// AcceptStatName returns the name of an accept status.
func AcceptStatName(s uint32) string {
	return lookup(acceptNames, s)
}

// RejectStatName returns the name of a reject status.
func RejectStatName(s uint32) string {
	return lookup(rejectNames, s)
}

// FlavorName returns the name of an authentication flavor.
func FlavorName(f uint32) string {
	return lookup(flavorNames, f)
}

func lookup(m map[uint32]string, v uint32) string {
	if n, ok := m[v]; ok {
		return n
	}
	return fmt.Sprintf("%d", v)
}
