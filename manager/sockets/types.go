package sockets

import (
	"encoding/binary"
	"fmt"
)

// 以下类型与 guest 的 ABI 一一对应，取值不可更改。

type Errno uint32

const (
	ErrnoSUCCESS        Errno = 0
	ErrnoPERM           Errno = 1
	ErrnoINTR           Errno = 4
	ErrnoBADF           Errno = 9
	ErrnoAGAIN          Errno = 11
	ErrnoACCES          Errno = 13
	ErrnoINVAL          Errno = 22
	ErrnoMFILE          Errno = 24
	ErrnoNOTTY          Errno = 25
	ErrnoPIPE           Errno = 32
	ErrnoNOTSOCK        Errno = 88
	ErrnoDESTADDRREQ    Errno = 89
	ErrnoMSGSIZE        Errno = 90
	ErrnoPROTOTYPE      Errno = 91
	ErrnoNOPROTOOPT     Errno = 92
	ErrnoPROTONOSUPPORT Errno = 93
	ErrnoOPNOTSUPP      Errno = 95
	ErrnoAFNOSUPPORT    Errno = 97
	ErrnoADDRINUSE      Errno = 98
	ErrnoADDRNOTAVAIL   Errno = 99
	ErrnoNETDOWN        Errno = 100
	ErrnoNETUNREACH     Errno = 101
	ErrnoNETRESET       Errno = 102
	ErrnoCONNABORTED    Errno = 103
	ErrnoCONNRESET      Errno = 104
	ErrnoNOBUFS         Errno = 105
	ErrnoISCONN         Errno = 106
	ErrnoNOTCONN        Errno = 107
	ErrnoTIMEDOUT       Errno = 110
	ErrnoCONNREFUSED    Errno = 111
	ErrnoHOSTUNREACH    Errno = 113
	ErrnoALREADY        Errno = 114
	ErrnoINPROGRESS     Errno = 115
)

var errnoNames = map[Errno]string{
	ErrnoSUCCESS:        "SUCCESS",
	ErrnoPERM:           "PERM",
	ErrnoINTR:           "INTR",
	ErrnoBADF:           "BADF",
	ErrnoAGAIN:          "AGAIN",
	ErrnoACCES:          "ACCES",
	ErrnoINVAL:          "INVAL",
	ErrnoMFILE:          "MFILE",
	ErrnoNOTTY:          "NOTTY",
	ErrnoPIPE:           "PIPE",
	ErrnoNOTSOCK:        "NOTSOCK",
	ErrnoDESTADDRREQ:    "DESTADDRREQ",
	ErrnoMSGSIZE:        "MSGSIZE",
	ErrnoPROTOTYPE:      "PROTOTYPE",
	ErrnoNOPROTOOPT:     "NOPROTOOPT",
	ErrnoPROTONOSUPPORT: "PROTONOSUPPORT",
	ErrnoOPNOTSUPP:      "OPNOTSUPP",
	ErrnoAFNOSUPPORT:    "AFNOSUPPORT",
	ErrnoADDRINUSE:      "ADDRINUSE",
	ErrnoADDRNOTAVAIL:   "ADDRNOTAVAIL",
	ErrnoNETDOWN:        "NETDOWN",
	ErrnoNETUNREACH:     "NETUNREACH",
	ErrnoNETRESET:       "NETRESET",
	ErrnoCONNABORTED:    "CONNABORTED",
	ErrnoCONNRESET:      "CONNRESET",
	ErrnoNOBUFS:         "NOBUFS",
	ErrnoISCONN:         "ISCONN",
	ErrnoNOTCONN:        "NOTCONN",
	ErrnoTIMEDOUT:       "TIMEDOUT",
	ErrnoCONNREFUSED:    "CONNREFUSED",
	ErrnoHOSTUNREACH:    "HOSTUNREACH",
	ErrnoALREADY:        "ALREADY",
	ErrnoINPROGRESS:     "INPROGRESS",
}

func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Errno(%d)", uint32(e))
}

type Domain uint32

const (
	DomainUnspecified Domain = 0
	DomainINET        Domain = 2
)

type Type uint32

const (
	TypeUnspecified Type = 0
	TypeSTREAM      Type = 1
	TypeDGRAM       Type = 2
	TypeRAW         Type = 3
	TypeSEQPACKET   Type = 5
)

type Protocol uint32

const (
	ProtocolUnspecified Protocol = 0
	ProtocolICMP        Protocol = 1
	ProtocolTCP         Protocol = 6
	ProtocolUDP         Protocol = 17
)

type SocketLevel uint32

const SocketLevelSOCKET SocketLevel = 0xffff

type OptName uint32

const (
	OptNameREUSEADDR OptName = 0x4
	OptNameKEEPALIVE OptName = 0x8
	OptNameBROADCAST OptName = 0x20
	OptNameLINGER    OptName = 0x80
	OptNameNOSIGPIPE OptName = 0x800
	OptNameSNDBUF    OptName = 0x1001
	OptNameRCVBUF    OptName = 0x1002
	OptNameSNDTIMEO  OptName = 0x1005
	OptNameRCVTIMEO  OptName = 0x1006
	OptNameERROR     OptName = 0x1007
)

type ShutdownHow int32

const (
	ShutdownRD   ShutdownHow = 0
	ShutdownWR   ShutdownHow = 1
	ShutdownRDWR ShutdownHow = 2
)

type FcntlCmd uint32

const (
	FcntlGETFL FcntlCmd = 3
	FcntlSETFL FcntlCmd = 4
)

type PollEvents uint16

const (
	PollIn     PollEvents = 0x1
	PollPri    PollEvents = 0x2
	PollOut    PollEvents = 0x4
	PollErr    PollEvents = 0x8
	PollHup    PollEvents = 0x10
	PollNval   PollEvents = 0x20
	PollRdNorm PollEvents = 0x40
	PollRdBand PollEvents = 0x80
	PollWrBand PollEvents = 0x100
)

type GetAddrInfoError int32

const (
	GetAddrInfoSUCCESS GetAddrInfoError = iota
	GetAddrInfoADDRFAMILY
	GetAddrInfoAGAIN
	GetAddrInfoBADFLAGS
	GetAddrInfoFAIL
	GetAddrInfoFAMILY
	GetAddrInfoMEMORY
	GetAddrInfoNODATA
	GetAddrInfoNONAME
	GetAddrInfoSERVICE
	GetAddrInfoSOCKTYPE
	GetAddrInfoSYSTEM
	GetAddrInfoBADHINTS
	GetAddrInfoPROTOCOL
	GetAddrInfoOVERFLOW
	GetAddrInfoOTHER
)

const (
	FlagMsgPeek     = 0x2
	FlagMsgDontWait = 0x80
	FlagONonBlock   = 0x800

	// 创建时请求非阻塞的私有类型位，目前只检测并剥离。
	typeFlagNonBlockOnCreate Type = 0x20000000
)

// --- Guest structures ---

const (
	SockAddrInSize = 16
	PollFDSize     = 8
	LingerSize     = 8
)

// SockAddrIn 是 guest 的 sockaddr_in。Port 为主机字节序，序列化时写为网络字节序。
type SockAddrIn struct {
	Len    uint8
	Family uint8
	Port   uint16
	IP     [4]byte
}

// Bytes 序列化为 16 字节的 guest 布局。
func (a SockAddrIn) Bytes() []byte {
	buf := make([]byte, SockAddrInSize)
	buf[0] = a.Len
	buf[1] = a.Family
	binary.BigEndian.PutUint16(buf[2:4], a.Port)
	copy(buf[4:8], a.IP[:])
	return buf
}

// ParseSockAddrIn 解析 guest 布局，buf 必须恰好为 16 字节。
func ParseSockAddrIn(buf []byte) (SockAddrIn, bool) {
	if len(buf) != SockAddrInSize {
		return SockAddrIn{}, false
	}
	var a SockAddrIn
	a.Len = buf[0]
	a.Family = buf[1]
	a.Port = binary.BigEndian.Uint16(buf[2:4])
	copy(a.IP[:], buf[4:8])
	return a, true
}

// PollFD 是 guest 的 pollfd，小端序，8 字节。
type PollFD struct {
	FD      int32
	Events  PollEvents
	Revents PollEvents
}

func readPollFDs(buf []byte, n int) []PollFD {
	fds := make([]PollFD, n)
	for i := range fds {
		entry := buf[i*PollFDSize:]
		fds[i] = PollFD{
			FD:      int32(binary.LittleEndian.Uint32(entry[0:4])),
			Events:  PollEvents(binary.LittleEndian.Uint16(entry[4:6])),
			Revents: PollEvents(binary.LittleEndian.Uint16(entry[6:8])),
		}
	}
	return fds
}

func writePollFDs(buf []byte, fds []PollFD) {
	for i, fd := range fds {
		entry := buf[i*PollFDSize:]
		binary.LittleEndian.PutUint32(entry[0:4], uint32(fd.FD))
		binary.LittleEndian.PutUint16(entry[4:6], uint16(fd.Events))
		binary.LittleEndian.PutUint16(entry[6:8], uint16(fd.Revents))
	}
}

// Linger 是 SO_LINGER 的 guest 布局。
type Linger struct {
	OnOff  uint32
	Linger uint32
}

func parseLinger(buf []byte) (Linger, bool) {
	if len(buf) != LingerSize {
		return Linger{}, false
	}
	return Linger{
		OnOff:  binary.LittleEndian.Uint32(buf[0:4]),
		Linger: binary.LittleEndian.Uint32(buf[4:8]),
	}, true
}
