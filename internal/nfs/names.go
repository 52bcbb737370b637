package nfs

import "fmt"

// NFSv3 procedures (RFC 1813).
const (
	NFS3ProcNull        = 0
	NFS3ProcGetattr     = 1
	NFS3ProcSetattr     = 2
	NFS3ProcLookup      = 3
	NFS3ProcAccess      = 4
	NFS3ProcReadlink    = 5
	NFS3ProcRead        = 6
	NFS3ProcWrite       = 7
	NFS3ProcCreate      = 8
	NFS3ProcMkdir       = 9
	NFS3ProcSymlink     = 10
	NFS3ProcMknod       = 11
	NFS3ProcRemove      = 12
	NFS3ProcRmdir       = 13
	NFS3ProcRename      = 14
	NFS3ProcLink        = 15
	NFS3ProcReaddir     = 16
	NFS3ProcReaddirplus = 17
	NFS3ProcFsstat      = 18
	NFS3ProcFsinfo      = 19
	NFS3ProcPathconf    = 20
	NFS3ProcCommit      = 21
)

var nfs3Procs = []string{
	"NULL", "GETATTR", "SETATTR", "LOOKUP", "ACCESS", "READLINK", "READ",
	"WRITE", "CREATE", "MKDIR", "SYMLINK", "MKNOD", "REMOVE", "RMDIR",
	"RENAME", "LINK", "READDIR", "READDIRPLUS", "FSSTAT", "FSINFO",
	"PATHCONF", "COMMIT",
}

var nfs3Stats = map[uint32]string{
	0:     "NFS3_OK",
	1:     "NFS3ERR_PERM",
	2:     "NFS3ERR_NOENT",
	5:     "NFS3ERR_IO",
	6:     "NFS3ERR_NXIO",
	13:    "NFS3ERR_ACCES",
	17:    "NFS3ERR_EXIST",
	18:    "NFS3ERR_XDEV",
	19:    "NFS3ERR_NODEV",
	20:    "NFS3ERR_NOTDIR",
	21:    "NFS3ERR_ISDIR",
	22:    "NFS3ERR_INVAL",
	27:    "NFS3ERR_FBIG",
	28:    "NFS3ERR_NOSPC",
	30:    "NFS3ERR_ROFS",
	31:    "NFS3ERR_MLINK",
	63:    "NFS3ERR_NAMETOOLONG",
	66:    "NFS3ERR_NOTEMPTY",
	69:    "NFS3ERR_DQUOT",
	70:    "NFS3ERR_STALE",
	71:    "NFS3ERR_REMOTE",
	10001: "NFS3ERR_BADHANDLE",
	10002: "NFS3ERR_NOT_SYNC",
	10003: "NFS3ERR_BAD_COOKIE",
	10004: "NFS3ERR_NOTSUPP",
	10005: "NFS3ERR_TOOSMALL",
	10006: "NFS3ERR_SERVERFAULT",
	10007: "NFS3ERR_BADTYPE",
	10008: "NFS3ERR_JUKEBOX",
}

// NFSv4 procedures and operations (RFC 7530, RFC 8881).
const (
	NFS4ProcNull     = 0
	NFS4ProcCompound = 1

	OpAccess          = 3
	OpClose           = 4
	OpCommit          = 5
	OpCreate          = 6
	OpGetattr         = 9
	OpGetfh           = 10
	OpLink            = 11
	OpLock            = 12
	OpLookup          = 15
	OpLookupp         = 16
	OpOpen            = 18
	OpPutfh           = 22
	OpPutpubfh        = 23
	OpPutrootfh       = 24
	OpRead            = 25
	OpReaddir         = 26
	OpRemove          = 28
	OpRename          = 29
	OpRenew           = 30
	OpRestorefh       = 31
	OpSavefh          = 32
	OpSetattr         = 34
	OpWrite           = 38
	OpDestroySession  = 44
	OpSequence        = 53
	OpReclaimComplete = 58
	OpSeek            = 69
	OpIllegal         = 10044
)

var nfs4Ops = map[uint32]string{
	3:     "ACCESS",
	4:     "CLOSE",
	5:     "COMMIT",
	6:     "CREATE",
	7:     "DELEGPURGE",
	8:     "DELEGRETURN",
	9:     "GETATTR",
	10:    "GETFH",
	11:    "LINK",
	12:    "LOCK",
	13:    "LOCKT",
	14:    "LOCKU",
	15:    "LOOKUP",
	16:    "LOOKUPP",
	17:    "NVERIFY",
	18:    "OPEN",
	19:    "OPENATTR",
	20:    "OPEN_CONFIRM",
	21:    "OPEN_DOWNGRADE",
	22:    "PUTFH",
	23:    "PUTPUBFH",
	24:    "PUTROOTFH",
	25:    "READ",
	26:    "READDIR",
	27:    "READLINK",
	28:    "REMOVE",
	29:    "RENAME",
	30:    "RENEW",
	31:    "RESTOREFH",
	32:    "SAVEFH",
	33:    "SECINFO",
	34:    "SETATTR",
	35:    "SETCLIENTID",
	36:    "SETCLIENTID_CONFIRM",
	37:    "VERIFY",
	38:    "WRITE",
	39:    "RELEASE_LOCKOWNER",
	40:    "BACKCHANNEL_CTL",
	41:    "BIND_CONN_TO_SESSION",
	42:    "EXCHANGE_ID",
	43:    "CREATE_SESSION",
	44:    "DESTROY_SESSION",
	45:    "FREE_STATEID",
	46:    "GET_DIR_DELEGATION",
	47:    "GETDEVICEINFO",
	48:    "GETDEVICELIST",
	49:    "LAYOUTCOMMIT",
	50:    "LAYOUTGET",
	51:    "LAYOUTRETURN",
	52:    "SECINFO_NO_NAME",
	53:    "SEQUENCE",
	54:    "SET_SSV",
	55:    "TEST_STATEID",
	56:    "WANT_DELEGATION",
	57:    "DESTROY_CLIENTID",
	58:    "RECLAIM_COMPLETE",
	59:    "ALLOCATE",
	60:    "COPY",
	61:    "COPY_NOTIFY",
	62:    "DEALLOCATE",
	63:    "IO_ADVISE",
	64:    "LAYOUTERROR",
	65:    "LAYOUTSTATS",
	66:    "OFFLOAD_CANCEL",
	67:    "OFFLOAD_STATUS",
	68:    "READ_PLUS",
	69:    "SEEK",
	70:    "WRITE_SAME",
	71:    "CLONE",
	10044: "ILLEGAL",
}

var nfs4Stats = map[uint32]string{
	0:     "NFS4_OK",
	1:     "NFS4ERR_PERM",
	2:     "NFS4ERR_NOENT",
	5:     "NFS4ERR_IO",
	6:     "NFS4ERR_NXIO",
	13:    "NFS4ERR_ACCESS",
	17:    "NFS4ERR_EXIST",
	18:    "NFS4ERR_XDEV",
	20:    "NFS4ERR_NOTDIR",
	21:    "NFS4ERR_ISDIR",
	22:    "NFS4ERR_INVAL",
	27:    "NFS4ERR_FBIG",
	28:    "NFS4ERR_NOSPC",
	30:    "NFS4ERR_ROFS",
	31:    "NFS4ERR_MLINK",
	63:    "NFS4ERR_NAMETOOLONG",
	66:    "NFS4ERR_NOTEMPTY",
	69:    "NFS4ERR_DQUOT",
	70:    "NFS4ERR_STALE",
	10001: "NFS4ERR_BADHANDLE",
	10003: "NFS4ERR_BAD_COOKIE",
	10004: "NFS4ERR_NOTSUPP",
	10005: "NFS4ERR_TOOSMALL",
	10006: "NFS4ERR_SERVERFAULT",
	10007: "NFS4ERR_BADTYPE",
	10008: "NFS4ERR_DELAY",
	10009: "NFS4ERR_SAME",
	10010: "NFS4ERR_DENIED",
	10011: "NFS4ERR_EXPIRED",
	10012: "NFS4ERR_LOCKED",
	10013: "NFS4ERR_GRACE",
	10014: "NFS4ERR_FHEXPIRED",
	10015: "NFS4ERR_SHARE_DENIED",
	10016: "NFS4ERR_WRONGSEC",
	10017: "NFS4ERR_CLID_INUSE",
	10018: "NFS4ERR_RESOURCE",
	10019: "NFS4ERR_MOVED",
	10020: "NFS4ERR_NOFILEHANDLE",
	10021: "NFS4ERR_MINOR_VERS_MISMATCH",
	10022: "NFS4ERR_STALE_CLIENTID",
	10023: "NFS4ERR_STALE_STATEID",
	10024: "NFS4ERR_OLD_STATEID",
	10025: "NFS4ERR_BAD_STATEID",
	10026: "NFS4ERR_BAD_SEQID",
	10027: "NFS4ERR_NOT_SAME",
	10028: "NFS4ERR_LOCK_RANGE",
	10029: "NFS4ERR_SYMLINK",
	10030: "NFS4ERR_RESTOREFH",
	10031: "NFS4ERR_LEASE_MOVED",
	10032: "NFS4ERR_ATTRNOTSUPP",
	10033: "NFS4ERR_NO_GRACE",
	10034: "NFS4ERR_RECLAIM_BAD",
	10035: "NFS4ERR_RECLAIM_CONFLICT",
	10036: "NFS4ERR_BADXDR",
	10037: "NFS4ERR_LOCKS_HELD",
	10038: "NFS4ERR_OPENMODE",
	10039: "NFS4ERR_BADOWNER",
	10040: "NFS4ERR_BADCHAR",
	10041: "NFS4ERR_BADNAME",
	10042: "NFS4ERR_BAD_RANGE",
	10043: "NFS4ERR_LOCK_NOTSUPP",
	10044: "NFS4ERR_OP_ILLEGAL",
	10045: "NFS4ERR_DEADLOCK",
	10046: "NFS4ERR_FILE_OPEN",
	10047: "NFS4ERR_ADMIN_REVOKED",
	10048: "NFS4ERR_CB_PATH_DOWN",
	10052: "NFS4ERR_BADSESSION",
	10053: "NFS4ERR_BADSLOT",
	10055: "NFS4ERR_CONN_NOT_BOUND_TO_SESSION",
	10063: "NFS4ERR_SEQ_MISORDERED",
	10068: "NFS4ERR_RETRY_UNCACHED_REP",
	10071: "NFS4ERR_TOO_MANY_OPS",
	10077: "NFS4ERR_SEQUENCE_POS",
}

// MOUNT procedures (RFC 1813 appendix I).
const (
	MountProcNull    = 0
	MountProcMnt     = 1
	MountProcDump    = 2
	MountProcUmnt    = 3
	MountProcUmntall = 4
	MountProcExport  = 5
)

var mountProcs = []string{"NULL", "MNT", "DUMP", "UMNT", "UMNTALL", "EXPORT"}

var mountStats = map[uint32]string{
	0:     "MNT3_OK",
	1:     "MNT3ERR_PERM",
	2:     "MNT3ERR_NOENT",
	5:     "MNT3ERR_IO",
	13:    "MNT3ERR_ACCES",
	20:    "MNT3ERR_NOTDIR",
	22:    "MNT3ERR_INVAL",
	63:    "MNT3ERR_NAMETOOLONG",
	10004: "MNT3ERR_NOTSUPP",
	10006: "MNT3ERR_SERVERFAULT",
}

// NLMv4 procedures.
const (
	NLMProcNull       = 0
	NLMProcTest       = 1
	NLMProcLock       = 2
	NLMProcCancel     = 3
	NLMProcUnlock     = 4
	NLMProcGranted    = 5
	NLMProcTestMsg    = 6
	NLMProcLockMsg    = 7
	NLMProcCancelMsg  = 8
	NLMProcUnlockMsg  = 9
	NLMProcGrantedMsg = 10
	NLMProcTestRes    = 11
	NLMProcLockRes    = 12
	NLMProcCancelRes  = 13
	NLMProcUnlockRes  = 14
	NLMProcGrantedRes = 15
	NLMProcShare      = 20
	NLMProcUnshare    = 21
	NLMProcNmLock     = 22
	NLMProcFreeAll    = 23
)

var nlmProcs = map[uint32]string{
	0:  "NULL",
	1:  "TEST",
	2:  "LOCK",
	3:  "CANCEL",
	4:  "UNLOCK",
	5:  "GRANTED",
	6:  "TEST_MSG",
	7:  "LOCK_MSG",
	8:  "CANCEL_MSG",
	9:  "UNLOCK_MSG",
	10: "GRANTED_MSG",
	11: "TEST_RES",
	12: "LOCK_RES",
	13: "CANCEL_RES",
	14: "UNLOCK_RES",
	15: "GRANTED_RES",
	20: "SHARE",
	21: "UNSHARE",
	22: "NM_LOCK",
	23: "FREE_ALL",
}

var nlmStats = map[uint32]string{
	0: "NLM4_GRANTED",
	1: "NLM4_DENIED",
	2: "NLM4_DENIED_NOLOCKS",
	3: "NLM4_BLOCKED",
	4: "NLM4_DENIED_GRACE_PERIOD",
	5: "NLM4_DEADLCK",
	6: "NLM4_ROFS",
	7: "NLM4_STALE_FH",
	8: "NLM4_FBIG",
	9: "NLM4_FAILED",
}

// PORTMAP procedures (RFC 1833).
const (
	PmapProcNull    = 0
	PmapProcSet     = 1
	PmapProcUnset   = 2
	PmapProcGetport = 3
	PmapProcDump    = 4
	PmapProcCallit  = 5
)

var pmapProcs = []string{"NULL", "SET", "UNSET", "GETPORT", "DUMP", "CALLIT"}

// Nfs3ProcName returns the name of an NFSv3 procedure.
func Nfs3ProcName(proc uint32) string {
	return indexName(nfs3Procs, proc)
}

// Nfs3StatName returns the name of an nfsstat3 value.
func Nfs3StatName(s uint32) string {
	return mapName(nfs3Stats, s)
}

// OpName returns the name of an NFSv4 operation.
func OpName(op uint32) string {
	return mapName(nfs4Ops, op)
}

// Nfs4StatName returns the name of an nfsstat4 value.
func Nfs4StatName(s uint32) string {
	return mapName(nfs4Stats, s)
}

// MountProcName returns the name of a MOUNT procedure.
func MountProcName(proc uint32) string {
	return indexName(mountProcs, proc)
}

// MountStatName returns the name of a mountstat3 value.
func MountStatName(s uint32) string {
	return mapName(mountStats, s)
}

// NlmProcName returns the name of an NLMv4 procedure.
func NlmProcName(proc uint32) string {
	return mapName(nlmProcs, proc)
}

// NlmStatName returns the name of an nlm4_stats value.
func NlmStatName(s uint32) string {
	return mapName(nlmStats, s)
}

// PmapProcName returns the name of a PORTMAP procedure.
func PmapProcName(proc uint32) string {
	return indexName(pmapProcs, proc)
}

func indexName(names []string, v uint32) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%d", v)
}

func mapName(names map[uint32]string, v uint32) string {
	if n, ok := names[v]; ok {
		return n
	}
	return fmt.Sprintf("%d", v)
}
