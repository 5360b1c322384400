package tls

import (
	"crypto/tls"
	"log/slog"

	"github.com/OpenListTeam/hle-sockets/manager/network"
	"github.com/pkg/errors"
)

// 后端名称
const (
	BackendNone = "none"
	BackendTLS  = "tls"
)

var (
	ErrNoSocket       = errors.New("ssl: no socket")
	ErrWouldBlock     = errors.New("ssl: operation would block")
	ErrTimeout        = errors.New("ssl: operation timed out")
	ErrPipeClosed     = errors.New("ssl: connection closed")
	ErrInternal       = errors.New("ssl: internal error")
	ErrUnknownBackend = errors.New("ssl: unknown backend")
)

// Backend 是一条 SSL 连接的实现。套接字归 BSD 描述符表所有，Backend 不负责关闭它。
type Backend interface {
	SetSocket(socket network.SocketBase)
	// SetNonBlocking 记录 guest 选择的 IO 模式。
	SetNonBlocking(enable bool)
	SetHostName(hostname string) error
	DoHandshake() error
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
	// GetServerCerts 返回 DER 编码的服务器证书链，叶子证书在前。
	GetServerCerts() ([][]byte, error)
	Close() error
}

// CipherReporter 由能报告协商结果的后端实现。
type CipherReporter interface {
	CipherInfo() (cipher, version string, ok bool)
}

// New 按名称创建后端，cfg 只对 "tls" 后端有效，可以为 nil。
func New(name string, cfg *tls.Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case BackendNone, "":
		return &noneBackend{logger: logger}, nil
	case BackendTLS:
		return newTLSBackend(cfg, logger), nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "backend %q", name)
	}
}

// errnoError 把宿主 Errno 转为后端错误。
func errnoError(errno network.Errno) error {
	switch errno {
	case network.ErrnoSUCCESS:
		return nil
	case network.ErrnoAGAIN:
		return ErrWouldBlock
	case network.ErrnoTIMEDOUT:
		return ErrTimeout
	case network.ErrnoPIPE, network.ErrnoCONNRESET, network.ErrnoCONNABORTED, network.ErrnoNOTCONN:
		return errors.Wrap(ErrPipeClosed, errno.String())
	default:
		return errors.Wrap(ErrInternal, errno.String())
	}
}

// --- none ---

// noneBackend 不做加密，直接读写原始套接字。
type noneBackend struct {
	socket network.SocketBase
	logger *slog.Logger
}

// 让 guest 解析证书时不至于崩溃的最小 DER 头。
var dummyServerCert = []byte{0x30, 0x82, 0x01, 0x01}

func (b *noneBackend) SetSocket(socket network.SocketBase) {
	b.socket = socket
}

func (b *noneBackend) SetNonBlocking(bool) {}

func (b *noneBackend) SetHostName(hostname string) error {
	b.logger.Warn("SetHostName", "stubbed", true, "hostname", hostname)
	return nil
}

func (b *noneBackend) DoHandshake() error {
	b.logger.Warn("pretending to do TLS handshake", "stubbed", true)
	return nil
}

func (b *noneBackend) Read(buf []byte) (int, error) {
	if b.socket == nil {
		return 0, ErrNoSocket
	}
	n, errno := b.socket.Recv(0, buf)
	if err := errnoError(errno); err != nil {
		if !errors.Is(err, ErrWouldBlock) {
			b.logger.Error("socket read failed", "errno", errno)
		}
		return 0, err
	}
	return int(n), nil
}

func (b *noneBackend) Write(data []byte) (int, error) {
	if b.socket == nil {
		return 0, ErrNoSocket
	}
	n, errno := b.socket.Send(data, 0)
	if err := errnoError(errno); err != nil {
		if !errors.Is(err, ErrWouldBlock) {
			b.logger.Error("socket write failed", "errno", errno)
		}
		return 0, err
	}
	return int(n), nil
}

func (b *noneBackend) GetServerCerts() ([][]byte, error) {
	return [][]byte{dummyServerCert}, nil
}

func (b *noneBackend) Close() error {
	b.socket = nil
	return nil
}

// --- tls ---

// tlsBackend 在 guest 套接字之上运行 crypto/tls 客户端。
type tlsBackend struct {
	config   *tls.Config
	socket   network.SocketBase
	conn     *tls.Conn
	hostname string
	nonBlock bool
	logger   *slog.Logger
}

func newTLSBackend(cfg *tls.Config, logger *slog.Logger) *tlsBackend {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	return &tlsBackend{config: cfg, logger: logger}
}

func (b *tlsBackend) SetSocket(socket network.SocketBase) {
	b.socket = socket
}

func (b *tlsBackend) SetNonBlocking(enable bool) {
	b.nonBlock = enable
}

func (b *tlsBackend) SetHostName(hostname string) error {
	b.hostname = hostname
	return nil
}

func (b *tlsBackend) DoHandshake() error {
	if b.socket == nil {
		return ErrNoSocket
	}
	cfg := b.config.Clone()
	if b.hostname != "" {
		cfg.ServerName = b.hostname
	}
	conn := tls.Client(newSocketConn(b.socket), cfg)

	// crypto/tls 的握手无法在 EAGAIN 之后继续，握手期间总是阻塞
	if b.nonBlock {
		b.socket.SetNonBlock(false)
		defer b.socket.SetNonBlock(true)
	}
	if err := conn.Handshake(); err != nil {
		return b.mapError("handshake", err)
	}
	b.conn = conn
	state := b.conn.ConnectionState()
	b.logger.Debug("handshake complete",
		"server_name", state.ServerName,
		"version", tls.VersionName(state.Version),
		"cipher", tls.CipherSuiteName(state.CipherSuite))
	return nil
}

func (b *tlsBackend) Read(buf []byte) (int, error) {
	if b.conn == nil {
		return 0, ErrInternal
	}
	n, err := b.conn.Read(buf)
	if err != nil && n == 0 {
		return 0, b.mapError("read", err)
	}
	return n, nil
}

func (b *tlsBackend) Write(data []byte) (int, error) {
	if b.conn == nil {
		return 0, ErrInternal
	}
	n, err := b.conn.Write(data)
	if err != nil && n == 0 {
		return 0, b.mapError("write", err)
	}
	return n, nil
}

func (b *tlsBackend) GetServerCerts() ([][]byte, error) {
	if b.conn == nil {
		return nil, ErrInternal
	}
	peers := b.conn.ConnectionState().PeerCertificates
	certs := make([][]byte, 0, len(peers))
	for _, cert := range peers {
		certs = append(certs, cert.Raw)
	}
	return certs, nil
}

func (b *tlsBackend) CipherInfo() (string, string, bool) {
	if b.conn == nil {
		return "", "", false
	}
	state := b.conn.ConnectionState()
	return tls.CipherSuiteName(state.CipherSuite), tls.VersionName(state.Version), true
}

// Close 只丢弃 TLS 状态，底层套接字由描述符表关闭。
func (b *tlsBackend) Close() error {
	b.conn = nil
	b.socket = nil
	return nil
}

func (b *tlsBackend) mapError(op string, err error) error {
	var wouldBlock errWouldBlock
	switch {
	case errors.As(err, &wouldBlock):
		return ErrWouldBlock
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrPipeClosed):
		return err
	default:
		b.logger.Error("tls "+op+" failed", "error", err)
		return errors.Wrapf(ErrInternal, "%s: %v", op, err)
	}
}
