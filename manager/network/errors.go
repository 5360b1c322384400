package network

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"syscall"
)

// mapOsError 将 Go 的 os/syscall 网络错误映射到宿主 Errno。
func mapOsError(err error) Errno {
	if err == nil {
		return ErrnoSUCCESS
	}
	if errors.Is(err, fs.ErrInvalid) {
		return ErrnoINVAL
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrnoTIMEDOUT
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		err = opErr.Err
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EBADF:
			return ErrnoBADF
		case syscall.EINVAL:
			return ErrnoINVAL
		case syscall.EMFILE, syscall.ENFILE:
			return ErrnoMFILE
		case syscall.EPIPE:
			return ErrnoPIPE
		case syscall.ENOTCONN:
			return ErrnoNOTCONN
		case syscall.EAGAIN:
			return ErrnoAGAIN
		case syscall.ECONNREFUSED:
			return ErrnoCONNREFUSED
		case syscall.ECONNRESET:
			return ErrnoCONNRESET
		case syscall.ECONNABORTED:
			return ErrnoCONNABORTED
		case syscall.EHOSTUNREACH:
			return ErrnoHOSTUNREACH
		case syscall.ENETDOWN:
			return ErrnoNETDOWN
		case syscall.ENETUNREACH:
			return ErrnoNETUNREACH
		case syscall.ETIMEDOUT:
			return ErrnoTIMEDOUT
		case syscall.EMSGSIZE:
			return ErrnoMSGSIZE
		case syscall.EINPROGRESS:
			return ErrnoINPROGRESS
		case syscall.EADDRINUSE:
			return ErrnoADDRINUSE
		case syscall.EADDRNOTAVAIL:
			return ErrnoADDRNOTAVAIL
		case syscall.EISCONN:
			return ErrnoISCONN
		case syscall.EALREADY:
			return ErrnoALREADY
		case syscall.ENOTSOCK:
			return ErrnoNOTSOCK
		case syscall.EOPNOTSUPP:
			return ErrnoOPNOTSUPP
		case syscall.ENOBUFS:
			return ErrnoNOBUFS
		case syscall.EACCES:
			return ErrnoACCES
		case syscall.EPERM:
			return ErrnoPERM
		case syscall.EAFNOSUPPORT:
			return ErrnoAFNOSUPPORT
		case syscall.EPROTONOSUPPORT:
			return ErrnoPROTONOSUPPORT
		case syscall.EPROTOTYPE:
			return ErrnoPROTOTYPE
		case syscall.ENOPROTOOPT:
			return ErrnoNOPROTOOPT
		case syscall.EDESTADDRREQ:
			return ErrnoDESTADDRREQ
		case syscall.EINTR:
			return ErrnoINTR
		case syscall.ENETRESET:
			return ErrnoNETRESET
		}
	}
	return ErrnoOTHER
}
