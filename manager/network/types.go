package network

import (
	"fmt"
	"net/netip"
)

// Errno 是宿主侧的网络错误码，与具体操作系统无关。
type Errno uint8

const (
	ErrnoSUCCESS Errno = iota
	ErrnoBADF
	ErrnoINVAL
	ErrnoMFILE
	ErrnoPIPE
	ErrnoNOTCONN
	ErrnoAGAIN
	ErrnoCONNREFUSED
	ErrnoCONNRESET
	ErrnoCONNABORTED
	ErrnoHOSTUNREACH
	ErrnoNETDOWN
	ErrnoNETUNREACH
	ErrnoTIMEDOUT
	ErrnoMSGSIZE
	ErrnoINPROGRESS
	ErrnoADDRINUSE
	ErrnoADDRNOTAVAIL
	ErrnoISCONN
	ErrnoALREADY
	ErrnoNOTSOCK
	ErrnoOPNOTSUPP
	ErrnoNOBUFS
	ErrnoACCES
	ErrnoPERM
	ErrnoAFNOSUPPORT
	ErrnoPROTONOSUPPORT
	ErrnoPROTOTYPE
	ErrnoNOPROTOOPT
	ErrnoDESTADDRREQ
	ErrnoINTR
	ErrnoNETRESET
	ErrnoOTHER
)

var errnoNames = [...]string{
	ErrnoSUCCESS:        "SUCCESS",
	ErrnoBADF:           "BADF",
	ErrnoINVAL:          "INVAL",
	ErrnoMFILE:          "MFILE",
	ErrnoPIPE:           "PIPE",
	ErrnoNOTCONN:        "NOTCONN",
	ErrnoAGAIN:          "AGAIN",
	ErrnoCONNREFUSED:    "CONNREFUSED",
	ErrnoCONNRESET:      "CONNRESET",
	ErrnoCONNABORTED:    "CONNABORTED",
	ErrnoHOSTUNREACH:    "HOSTUNREACH",
	ErrnoNETDOWN:        "NETDOWN",
	ErrnoNETUNREACH:     "NETUNREACH",
	ErrnoTIMEDOUT:       "TIMEDOUT",
	ErrnoMSGSIZE:        "MSGSIZE",
	ErrnoINPROGRESS:     "INPROGRESS",
	ErrnoADDRINUSE:      "ADDRINUSE",
	ErrnoADDRNOTAVAIL:   "ADDRNOTAVAIL",
	ErrnoISCONN:         "ISCONN",
	ErrnoALREADY:        "ALREADY",
	ErrnoNOTSOCK:        "NOTSOCK",
	ErrnoOPNOTSUPP:      "OPNOTSUPP",
	ErrnoNOBUFS:         "NOBUFS",
	ErrnoACCES:          "ACCES",
	ErrnoPERM:           "PERM",
	ErrnoAFNOSUPPORT:    "AFNOSUPPORT",
	ErrnoPROTONOSUPPORT: "PROTONOSUPPORT",
	ErrnoPROTOTYPE:      "PROTOTYPE",
	ErrnoNOPROTOOPT:     "NOPROTOOPT",
	ErrnoDESTADDRREQ:    "DESTADDRREQ",
	ErrnoINTR:           "INTR",
	ErrnoNETRESET:       "NETRESET",
	ErrnoOTHER:          "OTHER",
}

func (e Errno) String() string {
	if int(e) < len(errnoNames) {
		return errnoNames[e]
	}
	return fmt.Sprintf("Errno(%d)", uint8(e))
}

// Domain 是套接字的地址族。
type Domain uint8

const (
	DomainUnspecified Domain = iota
	DomainINET
)

// Type 是套接字类型。
type Type uint8

const (
	TypeUnspecified Type = iota
	TypeSTREAM
	TypeDGRAM
	TypeRAW
	TypeSEQPACKET
)

// Protocol 是传输层协议。
type Protocol uint8

const (
	ProtocolUnspecified Protocol = iota
	ProtocolICMP
	ProtocolTCP
	ProtocolUDP
)

type ShutdownHow uint8

const (
	ShutdownRD ShutdownHow = iota
	ShutdownWR
	ShutdownRDWR
)

// PollEvents 是宿主侧的 poll 事件位。
type PollEvents uint16

const (
	PollIn PollEvents = 1 << iota
	PollPri
	PollOut
	PollErr
	PollHup
	PollNval
	PollRdNorm
	PollRdBand
	PollWrBand
)

// 这些标志位与 guest 的取值一致，在两侧直接使用。
const (
	FlagMsgPeek     = 0x2
	FlagMsgDontWait = 0x80
	FlagONonBlock   = 0x800
)

// GetAddrInfoError 是地址解析的错误码。
type GetAddrInfoError uint8

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

type IPv4Address = [4]byte

// SockAddrIn 是宿主侧的 IPv4 套接字地址，Port 为主机字节序。
type SockAddrIn struct {
	Family Domain
	IP     IPv4Address
	Port   uint16
}

func (a SockAddrIn) String() string {
	return netip.AddrPortFrom(netip.AddrFrom4(a.IP), a.Port).String()
}

// IPv4AddressToInteger 按大端序把地址打包成整数。
func IPv4AddressToInteger(ip IPv4Address) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

// AddrInfo 是一次地址解析的单条结果。
type AddrInfo struct {
	Family     Domain
	SocketType Type
	Protocol   Protocol
	Addr       SockAddrIn
	CanonName  *string
}

// PollFD 是一次宿主 poll 的单个条目。
type PollFD struct {
	Socket  SocketBase
	Events  PollEvents
	Revents PollEvents
}
