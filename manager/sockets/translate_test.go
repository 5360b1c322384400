package sockets

import (
	"testing"

	"github.com/OpenListTeam/hle-sockets/manager/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateErrno(t *testing.T) {
	cases := map[network.Errno]Errno{
		network.ErrnoSUCCESS:     ErrnoSUCCESS,
		network.ErrnoBADF:        ErrnoBADF,
		network.ErrnoAGAIN:       ErrnoAGAIN,
		network.ErrnoCONNREFUSED: ErrnoCONNREFUSED,
		network.ErrnoTIMEDOUT:    ErrnoTIMEDOUT,
		network.ErrnoMSGSIZE:     ErrnoMSGSIZE,
		network.ErrnoINPROGRESS:  ErrnoINPROGRESS,
		network.ErrnoADDRINUSE:   ErrnoADDRINUSE,
		network.ErrnoISCONN:      ErrnoISCONN,
		network.ErrnoALREADY:     ErrnoALREADY,
		network.ErrnoNOTSOCK:     ErrnoNOTSOCK,
		network.ErrnoOPNOTSUPP:   ErrnoOPNOTSUPP,
		network.ErrnoACCES:       ErrnoACCES,
		network.ErrnoOTHER:       ErrnoSUCCESS,
	}
	for host, guest := range cases {
		assert.Equal(t, guest, TranslateErrno(host), host.String())
	}
	assert.Equal(t, Errno(98), TranslateErrno(network.ErrnoADDRINUSE))
	assert.Equal(t, Errno(99), TranslateErrno(network.ErrnoADDRNOTAVAIL))
}

// 只有无法识别的宿主错误会退化为 SUCCESS。
func TestTranslateErrnoCoversHostErrors(t *testing.T) {
	for e := network.ErrnoBADF; e < network.ErrnoOTHER; e++ {
		guest := TranslateErrno(e)
		assert.NotEqual(t, ErrnoSUCCESS, guest, e.String())
		assert.Equal(t, e.String(), guest.String())
	}
}

func TestTranslateEnums(t *testing.T) {
	assert.Equal(t, network.DomainINET, TranslateDomain(DomainINET))
	assert.Equal(t, network.DomainUnspecified, TranslateDomain(Domain(99)))
	assert.Equal(t, DomainINET, TranslateDomainToGuest(network.DomainINET))

	for _, typ := range []Type{TypeSTREAM, TypeDGRAM, TypeRAW, TypeSEQPACKET} {
		assert.Equal(t, typ, TranslateTypeToGuest(TranslateType(typ)))
	}
	for _, p := range []Protocol{ProtocolICMP, ProtocolTCP, ProtocolUDP} {
		assert.Equal(t, p, TranslateProtocolToGuest(TranslateProtocol(p)))
	}
	assert.Equal(t, network.ShutdownWR, TranslateShutdownHow(ShutdownWR))
	assert.Equal(t, GetAddrInfoNONAME, TranslateGetAddrInfoError(network.GetAddrInfoNONAME))
}

func TestTranslatePollEvents(t *testing.T) {
	all := PollIn | PollPri | PollOut | PollErr | PollHup | PollNval | PollRdNorm | PollRdBand | PollWrBand
	require.Equal(t, all, TranslatePollEventsToGuest(TranslatePollEvents(all)))
	require.Equal(t, network.PollIn|network.PollOut, TranslatePollEvents(PollIn|PollOut|0x8000))
}

func TestSockAddrInLayout(t *testing.T) {
	addr := SockAddrIn{Len: 16, Family: uint8(DomainINET), Port: 0x1F90, IP: [4]byte{127, 0, 0, 1}}
	buf := addr.Bytes()
	require.Equal(t, []byte{16, 2, 0x1F, 0x90, 127, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}, buf)

	parsed, ok := ParseSockAddrIn(buf)
	require.True(t, ok)
	require.Equal(t, addr, parsed)
	_, ok = ParseSockAddrIn(buf[:15])
	require.False(t, ok)

	host := TranslateSockAddrIn(parsed)
	require.Equal(t, uint16(8080), host.Port)
	require.Equal(t, addr, TranslateSockAddrInToGuest(host))
}

func TestGaiStringError(t *testing.T) {
	assert.Equal(t, "Name or service not known", GaiStringError(GetAddrInfoNONAME))
	assert.Equal(t, "Unknown error", GaiStringError(GetAddrInfoError(77)))
	assert.Equal(t, "Unknown error", GaiStringError(-1))
}
