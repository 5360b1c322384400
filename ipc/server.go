package ipc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	ErrServiceNotFound   = errors.New("service not found")
	ErrServiceRegistered = errors.New("service already registered")
	ErrSessionNotFound   = errors.New("session not found")
	ErrManagerClosed     = errors.New("server manager closed")
)

// Session 是一个已连接的会话。
type Session struct {
	handler Handler
	// owned 为 true 时会话关闭会同时关闭 handler。
	owned bool
}

func (s *Session) Handler() Handler { return s.handler }

type call struct {
	ctx     context.Context
	session *Session
	req     *Request
	done    chan callResult
}

type callResult struct {
	reply *Reply
	err   error
}

// ServerManager 保存命名服务与会话，并用一组工作线程处理排队的调用。
type ServerManager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	services map[string]Handler
	// threads 记录各服务请求的额外工作线程数。
	threads map[string]int
	closed  bool

	sessions *handleTable[*Session]
	queue    chan *call
}

func NewServerManager(logger *slog.Logger) *ServerManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerManager{
		logger:   logger,
		services: make(map[string]Handler),
		threads:  make(map[string]int),
		sessions: newHandleTable[*Session](),
		queue:    make(chan *call),
	}
}

func (m *ServerManager) Logger() *slog.Logger { return m.logger }

// RegisterNamedService 以 name 注册服务。
func (m *ServerManager) RegisterNamedService(name string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[name]; ok {
		return errors.Wrap(ErrServiceRegistered, name)
	}
	m.services[name] = h
	m.logger.Debug("registered service", "name", name, "handler", h.Name())
	return nil
}

func (m *ServerManager) GetService(name string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.services[name]
	return h, ok
}

// GetServiceAs 返回按具体类型取出的服务。
func GetServiceAs[T Handler](m *ServerManager, name string) (T, bool) {
	var zero T
	h, ok := m.GetService(name)
	if !ok {
		return zero, false
	}
	t, ok := h.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// StartAdditionalHostThreads 为 name 申请 n 个额外工作线程，Run 启动时生效。
func (m *ServerManager) StartAdditionalHostThreads(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[name] += n
}

// WorkerCount 返回 Run 将启动的工作线程数。
func (m *ServerManager) WorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 1
	for _, extra := range m.threads {
		n += extra
	}
	return n
}

// Connect 打开命名服务的新会话，返回会话句柄。
func (m *ServerManager) Connect(name string) (uint32, error) {
	h, ok := m.GetService(name)
	if !ok {
		return 0, errors.Wrap(ErrServiceNotFound, name)
	}
	return m.openSession(h, false), nil
}

func (m *ServerManager) openSession(h Handler, owned bool) uint32 {
	return m.sessions.insert(&Session{handler: h, owned: owned})
}

func (m *ServerManager) Session(handle uint32) (*Session, bool) {
	return m.sessions.get(handle)
}

// CloseSession 关闭会话。自有对象若实现 io.Closer 会被关闭。
func (m *ServerManager) CloseSession(handle uint32) error {
	s, ok := m.sessions.take(handle)
	if !ok {
		return errors.Wrapf(ErrSessionNotFound, "handle %d", handle)
	}
	if !s.owned {
		return nil
	}
	if closer, ok := s.handler.(io.Closer); ok {
		return errors.Wrapf(closer.Close(), "close %s", s.handler.Name())
	}
	return nil
}

// Invoke 在调用方的 goroutine 中同步处理请求。
func (m *ServerManager) Invoke(ctx context.Context, handle uint32, req *Request) (*Reply, error) {
	s, ok := m.sessions.get(handle)
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "handle %d", handle)
	}
	return m.dispatch(ctx, s, req)
}

// Call 把请求交给工作线程处理并等待结果，需要 Run 在运行。
func (m *ServerManager) Call(ctx context.Context, handle uint32, req *Request) (*Reply, error) {
	s, ok := m.sessions.get(handle)
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "handle %d", handle)
	}
	c := &call{ctx: ctx, session: s, req: req, done: make(chan callResult, 1)}
	select {
	case m.queue <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-c.done:
		return res.reply, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ServerManager) dispatch(ctx context.Context, s *Session, req *Request) (reply *Reply, err error) {
	c := newContext(ctx, m, s, req)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("command panicked", "handler", s.handler.Name(), "command", req.Command, "panic", r)
			reply, err = nil, fmt.Errorf("%s command %d: %v", s.handler.Name(), req.Command, r)
		}
	}()
	s.handler.Invoke(c)
	return c.reply, nil
}

// Run 启动工作线程，直到 ctx 结束。
func (m *ServerManager) Run(ctx context.Context) error {
	n := m.WorkerCount()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case c := <-m.queue:
					reply, err := m.dispatch(c.ctx, c.session, c.req)
					c.done <- callResult{reply: reply, err: err}
				}
			}
		})
	}
	m.logger.Debug("server manager running", "workers", n)
	return g.Wait()
}

// Close 关闭全部会话以及实现了 io.Closer 的服务。
// 会话先于服务关闭，会话的 Close 仍可以通过 GetService 找到其他服务。
func (m *ServerManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.closed = true
	m.mu.Unlock()

	var err error
	for _, handle := range m.sessions.handles() {
		err = multierr.Append(err, m.CloseSession(handle))
	}

	m.mu.Lock()
	services := m.services
	m.services = make(map[string]Handler)
	m.mu.Unlock()
	for name, h := range services {
		if closer, ok := h.(io.Closer); ok {
			err = multierr.Append(err, errors.Wrapf(closer.Close(), "close service %s", name))
		}
	}
	return err
}
