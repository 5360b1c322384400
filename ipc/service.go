package ipc

import "fmt"

// Handler 是可以挂在会话上的服务对象。
type Handler interface {
	Name() string
	Invoke(c *Context)
}

// HandlerFunc 处理一个命令。
type HandlerFunc func(c *Context)

// FunctionInfo 描述一个命令。Handler 为 nil 表示命令已知但未实现。
type FunctionInfo struct {
	ID      uint32
	Handler HandlerFunc
	Name    string
}

// Service 按命令 ID 分发请求，可以被具体服务嵌入。
type Service struct {
	name      string
	functions map[uint32]FunctionInfo
}

func NewService(name string) *Service {
	return &Service{name: name, functions: make(map[uint32]FunctionInfo)}
}

func (s *Service) Name() string { return s.name }

// RegisterHandlers 注册命令表，重复的 ID 视为编程错误。
func (s *Service) RegisterHandlers(functions []FunctionInfo) {
	for _, fn := range functions {
		if _, ok := s.functions[fn.ID]; ok {
			panic(fmt.Sprintf("ipc: %s: duplicate command %d", s.name, fn.ID))
		}
		s.functions[fn.ID] = fn
	}
}

// Lookup 返回命令信息。
func (s *Service) Lookup(id uint32) (FunctionInfo, bool) {
	fn, ok := s.functions[id]
	return fn, ok
}

func (s *Service) Invoke(c *Context) {
	fn, ok := s.functions[c.Command()]
	if !ok || fn.Handler == nil {
		name := "unknown"
		if ok {
			name = fn.Name
		}
		c.Logger().Warn("unimplemented command", "service", s.name, "command", c.Command(), "name", name)
		NewResponseBuilder(c).Push(ResultUnknown)
		return
	}
	fn.Handler(c)
}
