package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/OpenListTeam/hle-sockets/manager/network"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeSocket 用 net.Conn 模拟一个已连接的 guest 套接字。
type pipeSocket struct {
	network.SocketBase
	conn     net.Conn
	nonBlock []bool
	recvErr  network.Errno
}

func (p *pipeSocket) Recv(_ int, message []byte) (int32, network.Errno) {
	if p.recvErr != network.ErrnoSUCCESS {
		return -1, p.recvErr
	}
	n, err := p.conn.Read(message)
	if err == io.EOF {
		return 0, network.ErrnoSUCCESS
	}
	if err != nil {
		return -1, network.ErrnoCONNRESET
	}
	return int32(n), network.ErrnoSUCCESS
}

func (p *pipeSocket) Send(message []byte, _ int) (int32, network.Errno) {
	n, err := p.conn.Write(message)
	if err != nil {
		return -1, network.ErrnoPIPE
	}
	return int32(n), network.ErrnoSUCCESS
}

func (p *pipeSocket) SetNonBlock(enable bool) network.Errno {
	p.nonBlock = append(p.nonBlock, enable)
	return network.ErrnoSUCCESS
}

func (p *pipeSocket) GetSockName() (network.SockAddrIn, network.Errno) {
	return network.SockAddrIn{Family: network.DomainINET, IP: [4]byte{127, 0, 0, 1}, Port: 40000}, network.ErrnoSUCCESS
}

func (p *pipeSocket) GetPeerName() (network.SockAddrIn, network.Errno) {
	return network.SockAddrIn{Family: network.DomainINET, IP: [4]byte{127, 0, 0, 1}, Port: 443}, network.ErrnoSUCCESS
}

// newPipe 建立一对回环 TCP 连接，crypto/tls 需要有缓冲的传输。
func newPipe(t *testing.T) (*pipeSocket, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return &pipeSocket{conn: client}, server
}

func selfSigned(t *testing.T, host string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNew(t *testing.T) {
	b, err := New(BackendNone, nil, discard())
	require.NoError(t, err)
	assert.IsType(t, &noneBackend{}, b)

	b, err = New(BackendTLS, nil, discard())
	require.NoError(t, err)
	assert.IsType(t, &tlsBackend{}, b)

	_, err = New("openssl", nil, discard())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNoneBackendPassThrough(t *testing.T) {
	b, err := New(BackendNone, nil, discard())
	require.NoError(t, err)

	_, err = b.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrNoSocket)
	_, err = b.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNoSocket)

	socket, server := newPipe(t)
	b.SetSocket(socket)
	require.NoError(t, b.SetHostName("example.com"))
	require.NoError(t, b.DoHandshake())

	go func() {
		buf := make([]byte, 5)
		if _, err := io.ReadFull(server, buf); err == nil {
			server.Write(buf)
		}
	}()

	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	certs, err := b.GetServerCerts()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x30, 0x82, 0x01, 0x01}}, certs)
}

func TestNoneBackendErrors(t *testing.T) {
	b, err := New(BackendNone, nil, discard())
	require.NoError(t, err)
	socket, _ := newPipe(t)
	b.SetSocket(socket)

	socket.recvErr = network.ErrnoAGAIN
	_, err = b.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrWouldBlock)

	socket.recvErr = network.ErrnoMSGSIZE
	_, err = b.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrInternal)

	socket.recvErr = network.ErrnoCONNRESET
	_, err = b.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrPipeClosed)
}

func TestTLSBackendHandshakeAndEcho(t *testing.T) {
	cert := selfSigned(t, "switch.example")
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	roots := x509.NewCertPool()
	roots.AddCert(leaf)

	socket, raw := newPipe(t)
	server := tls.Server(raw, &tls.Config{Certificates: []tls.Certificate{cert}})
	go func() {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(server, buf); err == nil {
			server.Write(buf)
		}
	}()

	b, err := New(BackendTLS, &tls.Config{RootCAs: roots}, discard())
	require.NoError(t, err)

	_, err = b.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, b.DoHandshake(), ErrNoSocket)

	b.SetSocket(socket)
	b.SetNonBlocking(true)
	require.NoError(t, b.SetHostName("switch.example"))
	require.NoError(t, b.DoHandshake())
	// 握手期间切换为阻塞，结束后恢复
	assert.Equal(t, []bool{false, true}, socket.nonBlock)

	certs, err := b.GetServerCerts()
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, cert.Certificate[0], certs[0])

	n, err := b.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	require.NoError(t, b.Close())
}

func TestTLSBackendRejectsUnknownAuthority(t *testing.T) {
	cert := selfSigned(t, "switch.example")
	socket, raw := newPipe(t)
	server := tls.Server(raw, &tls.Config{Certificates: []tls.Certificate{cert}})
	go server.Handshake()

	b, err := New(BackendTLS, nil, discard())
	require.NoError(t, err)
	b.SetSocket(socket)
	require.NoError(t, b.SetHostName("switch.example"))

	err = b.DoHandshake()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestSocketConn(t *testing.T) {
	socket, server := newPipe(t)
	conn := newSocketConn(socket)

	assert.Equal(t, "127.0.0.1:40000", conn.LocalAddr().String())
	assert.Equal(t, "127.0.0.1:443", conn.RemoteAddr().String())

	socket.recvErr = network.ErrnoAGAIN
	_, err := conn.Read(make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Timeout())

	socket.recvErr = network.ErrnoSUCCESS
	server.Close()
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, conn.Close())
}
