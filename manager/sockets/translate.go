package sockets

import (
	"log/slog"

	"github.com/OpenListTeam/hle-sockets/manager/network"
)

// 未映射的取值记录警告并返回零值，与真机上从未出现过的组合一样处理。

func unimplemented(what string, value any) {
	slog.Warn("unimplemented translation", "what", what, "value", value)
}

// TranslateErrno 把宿主 Errno 转换为 guest Errno。
// 无法识别的宿主错误 (OTHER) 按 SUCCESS 处理。
func TranslateErrno(value network.Errno) Errno {
	switch value {
	case network.ErrnoSUCCESS:
		return ErrnoSUCCESS
	case network.ErrnoBADF:
		return ErrnoBADF
	case network.ErrnoAGAIN:
		return ErrnoAGAIN
	case network.ErrnoINVAL:
		return ErrnoINVAL
	case network.ErrnoMFILE:
		return ErrnoMFILE
	case network.ErrnoPIPE:
		return ErrnoPIPE
	case network.ErrnoNOTCONN:
		return ErrnoNOTCONN
	case network.ErrnoCONNREFUSED:
		return ErrnoCONNREFUSED
	case network.ErrnoCONNRESET:
		return ErrnoCONNRESET
	case network.ErrnoCONNABORTED:
		return ErrnoCONNABORTED
	case network.ErrnoHOSTUNREACH:
		return ErrnoHOSTUNREACH
	case network.ErrnoNETDOWN:
		return ErrnoNETDOWN
	case network.ErrnoNETUNREACH:
		return ErrnoNETUNREACH
	case network.ErrnoTIMEDOUT:
		return ErrnoTIMEDOUT
	case network.ErrnoMSGSIZE:
		return ErrnoMSGSIZE
	case network.ErrnoINPROGRESS:
		return ErrnoINPROGRESS
	case network.ErrnoADDRINUSE:
		return ErrnoADDRINUSE
	case network.ErrnoADDRNOTAVAIL:
		return ErrnoADDRNOTAVAIL
	case network.ErrnoISCONN:
		return ErrnoISCONN
	case network.ErrnoALREADY:
		return ErrnoALREADY
	case network.ErrnoNOTSOCK:
		return ErrnoNOTSOCK
	case network.ErrnoOPNOTSUPP:
		return ErrnoOPNOTSUPP
	case network.ErrnoNOBUFS:
		return ErrnoNOBUFS
	case network.ErrnoACCES:
		return ErrnoACCES
	case network.ErrnoPERM:
		return ErrnoPERM
	case network.ErrnoAFNOSUPPORT:
		return ErrnoAFNOSUPPORT
	case network.ErrnoPROTONOSUPPORT:
		return ErrnoPROTONOSUPPORT
	case network.ErrnoPROTOTYPE:
		return ErrnoPROTOTYPE
	case network.ErrnoNOPROTOOPT:
		return ErrnoNOPROTOOPT
	case network.ErrnoDESTADDRREQ:
		return ErrnoDESTADDRREQ
	case network.ErrnoINTR:
		return ErrnoINTR
	case network.ErrnoNETRESET:
		return ErrnoNETRESET
	default:
		unimplemented("errno", value)
		return ErrnoSUCCESS
	}
}

// TranslateResult 转换 (返回值, 宿主 Errno) 对。
func TranslateResult(ret int32, errno network.Errno) (int32, Errno) {
	return ret, TranslateErrno(errno)
}

func TranslateDomain(domain Domain) network.Domain {
	switch domain {
	case DomainUnspecified:
		return network.DomainUnspecified
	case DomainINET:
		return network.DomainINET
	default:
		unimplemented("domain", domain)
		return network.DomainUnspecified
	}
}

func TranslateDomainToGuest(domain network.Domain) Domain {
	switch domain {
	case network.DomainUnspecified:
		return DomainUnspecified
	case network.DomainINET:
		return DomainINET
	default:
		unimplemented("host domain", domain)
		return DomainUnspecified
	}
}

func TranslateType(typ Type) network.Type {
	switch typ {
	case TypeUnspecified:
		return network.TypeUnspecified
	case TypeSTREAM:
		return network.TypeSTREAM
	case TypeDGRAM:
		return network.TypeDGRAM
	case TypeRAW:
		return network.TypeRAW
	case TypeSEQPACKET:
		return network.TypeSEQPACKET
	default:
		unimplemented("type", typ)
		return network.TypeUnspecified
	}
}

func TranslateTypeToGuest(typ network.Type) Type {
	switch typ {
	case network.TypeUnspecified:
		return TypeUnspecified
	case network.TypeSTREAM:
		return TypeSTREAM
	case network.TypeDGRAM:
		return TypeDGRAM
	case network.TypeRAW:
		return TypeRAW
	case network.TypeSEQPACKET:
		return TypeSEQPACKET
	default:
		unimplemented("host type", typ)
		return TypeUnspecified
	}
}

func TranslateProtocol(protocol Protocol) network.Protocol {
	switch protocol {
	case ProtocolUnspecified:
		return network.ProtocolUnspecified
	case ProtocolICMP:
		return network.ProtocolICMP
	case ProtocolTCP:
		return network.ProtocolTCP
	case ProtocolUDP:
		return network.ProtocolUDP
	default:
		unimplemented("protocol", protocol)
		return network.ProtocolUnspecified
	}
}

func TranslateProtocolToGuest(protocol network.Protocol) Protocol {
	switch protocol {
	case network.ProtocolUnspecified:
		return ProtocolUnspecified
	case network.ProtocolICMP:
		return ProtocolICMP
	case network.ProtocolTCP:
		return ProtocolTCP
	case network.ProtocolUDP:
		return ProtocolUDP
	default:
		unimplemented("host protocol", protocol)
		return ProtocolUnspecified
	}
}

var pollEventPairs = [...]struct {
	guest PollEvents
	host  network.PollEvents
}{
	{PollIn, network.PollIn},
	{PollPri, network.PollPri},
	{PollOut, network.PollOut},
	{PollErr, network.PollErr},
	{PollHup, network.PollHup},
	{PollNval, network.PollNval},
	{PollRdNorm, network.PollRdNorm},
	{PollRdBand, network.PollRdBand},
	{PollWrBand, network.PollWrBand},
}

// TranslatePollEvents 逐位转换 guest 的 poll 事件。
func TranslatePollEvents(events PollEvents) network.PollEvents {
	var result network.PollEvents
	for _, pair := range pollEventPairs {
		if events&pair.guest != 0 {
			events &^= pair.guest
			result |= pair.host
		}
	}
	if events != 0 {
		unimplemented("poll events", uint16(events))
	}
	return result
}

func TranslatePollEventsToGuest(events network.PollEvents) PollEvents {
	var result PollEvents
	for _, pair := range pollEventPairs {
		if events&pair.host != 0 {
			events &^= pair.host
			result |= pair.guest
		}
	}
	if events != 0 {
		unimplemented("host poll events", uint16(events))
	}
	return result
}

func TranslateShutdownHow(how ShutdownHow) network.ShutdownHow {
	switch how {
	case ShutdownRD:
		return network.ShutdownRD
	case ShutdownWR:
		return network.ShutdownWR
	case ShutdownRDWR:
		return network.ShutdownRDWR
	default:
		unimplemented("shutdown how", how)
		return network.ShutdownRDWR
	}
}

func TranslateGetAddrInfoError(gaiErr network.GetAddrInfoError) GetAddrInfoError {
	switch gaiErr {
	case network.GetAddrInfoSUCCESS:
		return GetAddrInfoSUCCESS
	case network.GetAddrInfoADDRFAMILY:
		return GetAddrInfoADDRFAMILY
	case network.GetAddrInfoAGAIN:
		return GetAddrInfoAGAIN
	case network.GetAddrInfoBADFLAGS:
		return GetAddrInfoBADFLAGS
	case network.GetAddrInfoFAIL:
		return GetAddrInfoFAIL
	case network.GetAddrInfoFAMILY:
		return GetAddrInfoFAMILY
	case network.GetAddrInfoMEMORY:
		return GetAddrInfoMEMORY
	case network.GetAddrInfoNODATA:
		return GetAddrInfoNODATA
	case network.GetAddrInfoNONAME:
		return GetAddrInfoNONAME
	case network.GetAddrInfoSERVICE:
		return GetAddrInfoSERVICE
	case network.GetAddrInfoSOCKTYPE:
		return GetAddrInfoSOCKTYPE
	case network.GetAddrInfoSYSTEM:
		return GetAddrInfoSYSTEM
	case network.GetAddrInfoBADHINTS:
		return GetAddrInfoBADHINTS
	case network.GetAddrInfoPROTOCOL:
		return GetAddrInfoPROTOCOL
	case network.GetAddrInfoOVERFLOW:
		return GetAddrInfoOVERFLOW
	default:
		return GetAddrInfoOTHER
	}
}

// TranslateSockAddrIn 把 guest 地址转换为宿主地址。
func TranslateSockAddrIn(addr SockAddrIn) network.SockAddrIn {
	return network.SockAddrIn{
		Family: TranslateDomain(Domain(addr.Family)),
		IP:     addr.IP,
		Port:   addr.Port,
	}
}

// TranslateSockAddrInToGuest 把宿主地址转换为 guest 地址，Len 固定为结构体大小。
func TranslateSockAddrInToGuest(addr network.SockAddrIn) SockAddrIn {
	return SockAddrIn{
		Len:    SockAddrInSize,
		Family: uint8(TranslateDomainToGuest(addr.Family)),
		Port:   addr.Port,
		IP:     addr.IP,
	}
}

var gaiMessages = [...]string{
	GetAddrInfoSUCCESS:    "Success",
	GetAddrInfoADDRFAMILY: "Address family for hostname not supported",
	GetAddrInfoAGAIN:      "Temporary failure in name resolution",
	GetAddrInfoBADFLAGS:   "Invalid value for ai_flags",
	GetAddrInfoFAIL:       "Non-recoverable failure in name resolution",
	GetAddrInfoFAMILY:     "ai_family not supported",
	GetAddrInfoMEMORY:     "Memory allocation failure",
	GetAddrInfoNODATA:     "No address associated with hostname",
	GetAddrInfoNONAME:     "Name or service not known",
	GetAddrInfoSERVICE:    "Servname not supported for ai_socktype",
	GetAddrInfoSOCKTYPE:   "ai_socktype not supported",
	GetAddrInfoSYSTEM:     "System error",
	GetAddrInfoBADHINTS:   "Invalid value for hints",
	GetAddrInfoPROTOCOL:   "Resolved protocol is unknown",
	GetAddrInfoOVERFLOW:   "Argument buffer overflow",
	GetAddrInfoOTHER:      "Unknown error",
}

// GaiStringError 返回与 gai_strerror 相同的错误描述。
func GaiStringError(gaiErr GetAddrInfoError) string {
	if gaiErr >= 0 && int(gaiErr) < len(gaiMessages) {
		return gaiMessages[gaiErr]
	}
	return gaiMessages[GetAddrInfoOTHER]
}
