package ninepl

// Message type ids, per the 9P2000.L wire protocol (spec.md §4.4). A
// reply id is always its request id + 1, except Rlerror, which
// replaces the reply of any failed request regardless of the
// request's own id.
const (
	msgTstatfs = 8
	msgRstatfs = 9

	msgTlopen = 12
	msgRlopen = 13

	msgTlcreate = 14
	msgRlcreate = 15

	msgTsymlink = 16
	msgRsymlink = 17

	msgTmknod = 18
	msgRmknod = 19

	msgTreadlink = 22
	msgRreadlink = 23

	msgTgetattr = 24
	msgRgetattr = 25

	msgTsetattr = 26
	msgRsetattr = 27

	msgTxattrwalk = 30
	msgRxattrwalk = 31

	msgTxattrcreate = 32
	msgRxattrcreate = 33

	msgTreaddir = 40
	msgRreaddir = 41

	msgTfsync = 50
	msgRfsync = 51

	msgTlock = 52
	msgRlock = 53

	msgTlink = 70
	msgRlink = 71

	msgTmkdir = 72
	msgRmkdir = 73

	msgTrenameat = 74
	msgRrenameat = 75

	msgTunlinkat = 76
	msgRunlinkat = 77

	msgTversion = 100
	msgRversion = 101

	msgTauth = 102
	msgRauth = 103

	msgTattach = 104
	msgRattach = 105

	msgRlerror = 7

	msgTflush = 108
	msgRflush = 109

	msgTwalk = 110
	msgRwalk = 111

	msgTread  = 116
	msgRread  = 117
	msgTwrite = 118
	msgRwrite = 119

	msgTclunk = 120
	msgRclunk = 121
)

// NoFid means "no fid" (spec.md §3).
const NoFid uint32 = 0xFFFFFFFF

// NoTag is reserved for Tversion (spec.md §3).
const NoTag uint16 = 0xFFFF

// Default session constants (spec.md §6).
const (
	DefaultMsize = 8192
	BlockSize    = 8192
	Version      = "9P2000.L"
)

// Tsetattr's valid-mask bits (spec.md §4.4).
const (
	SetAttrMode     = 0x001
	SetAttrUid      = 0x002
	SetAttrGid      = 0x004
	SetAttrSize     = 0x008
	SetAttrAtime    = 0x010
	SetAttrMtime    = 0x020
	SetAttrCtime    = 0x040
	SetAttrAtimeSet = 0x080
	SetAttrMtimeSet = 0x100
)

// getattrValidMask is always returned in full by Tgetattr (spec.md §4.4).
const getattrValidMask = 0x7ff

// statfsType, statfsBsize, statfsNamelen are the static Tstatfs
// constants named in spec.md §4.4. A real disk accounting backend
// would implement backend.Statfs to override the block/file counts.
const (
	statfsType    = 0x01021997
	statfsBsize   = 8192
	statfsNamelen = 256
)
