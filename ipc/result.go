package ipc

import "fmt"

// Result 是 guest 的结果码：低 9 位为模块，其后 13 位为描述。
type Result uint32

const (
	ResultSuccess Result = 0
	// ResultUnknown 用于未实现的命令。
	ResultUnknown Result = 0xFFFFFFFF
)

func MakeResult(module, description uint32) Result {
	return Result(module&0x1FF | (description&0x1FFF)<<9)
}

func (r Result) Module() uint32      { return uint32(r) & 0x1FF }
func (r Result) Description() uint32 { return (uint32(r) >> 9) & 0x1FFF }
func (r Result) IsSuccess() bool     { return r == ResultSuccess }
func (r Result) IsError() bool       { return r != ResultSuccess }

func (r Result) Error() string {
	if r == ResultUnknown {
		return "result unknown"
	}
	return fmt.Sprintf("result %04d-%04d (0x%x)", 2000+r.Module(), r.Description(), uint32(r))
}
