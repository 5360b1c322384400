//go:build unix

package network

import (
	"time"

	"golang.org/x/sys/unix"
)

// 存在代理套接字时，以此间隔轮询其接收队列。
const proxyPollSlice = 10 * time.Millisecond

var pollEventBits = [...]struct {
	host PollEvents
	unix int16
}{
	{PollIn, unix.POLLIN},
	{PollPri, unix.POLLPRI},
	{PollOut, unix.POLLOUT},
	{PollErr, unix.POLLERR},
	{PollHup, unix.POLLHUP},
	{PollNval, unix.POLLNVAL},
	{PollRdNorm, pollRdNorm},
	{PollRdBand, pollRdBand},
	{PollWrBand, pollWrBand},
}

func toUnixPollEvents(events PollEvents) int16 {
	var result int16
	for _, bit := range pollEventBits {
		if events&bit.host != 0 {
			result |= bit.unix
		}
	}
	return result
}

func fromUnixPollEvents(events int16) PollEvents {
	var result PollEvents
	for _, bit := range pollEventBits {
		if events&bit.unix != 0 {
			result |= bit.host
		}
	}
	return result
}

// Poll 等待一组套接字就绪，timeout 为毫秒，-1 表示无限等待。
// 返回 revents 非零的条目数量。
func Poll(pollfds []PollFD, timeout int32) (int32, Errno) {
	var (
		direct  []unix.PollFd
		index   []int
		proxies []int
	)
	for i := range pollfds {
		pollfds[i].Revents = 0
		switch s := pollfds[i].Socket.(type) {
		case *Socket:
			direct = append(direct, unix.PollFd{Fd: int32(s.Fd()), Events: toUnixPollEvents(pollfds[i].Events)})
			index = append(index, i)
		case *ProxySocket:
			proxies = append(proxies, i)
		default:
			pollfds[i].Revents = PollNval
		}
	}

	if len(proxies) == 0 {
		if _, errno := pollDirect(direct, int(timeout)); errno != ErrnoSUCCESS {
			return -1, errno
		}
		return collect(pollfds, direct, index), ErrnoSUCCESS
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(time.Duration(timeout) * time.Millisecond)
	}
	for {
		ready := 0
		for _, i := range proxies {
			s := pollfds[i].Socket.(*ProxySocket)
			pollfds[i].Revents = s.pollEvents(pollfds[i].Events)
			if pollfds[i].Revents != 0 {
				ready++
			}
		}

		wait := proxyPollSlice
		if ready > 0 {
			wait = 0
		} else if timeout >= 0 {
			if remaining := time.Until(deadline); remaining < wait {
				wait = max(remaining, 0)
			}
		}

		if len(direct) > 0 {
			n, errno := pollDirect(direct, int(wait/time.Millisecond))
			if errno != ErrnoSUCCESS {
				return -1, errno
			}
			ready += n
		} else if wait > 0 {
			time.Sleep(wait)
		}

		if ready > 0 || (timeout >= 0 && !time.Now().Before(deadline)) {
			return collect(pollfds, direct, index), ErrnoSUCCESS
		}
	}
}

func pollDirect(fds []unix.PollFd, timeout int) (int, Errno) {
	if len(fds) == 0 {
		if timeout > 0 {
			time.Sleep(time.Duration(timeout) * time.Millisecond)
		}
		return 0, ErrnoSUCCESS
	}
	for {
		n, err := unix.Poll(fds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, mapOsError(err)
		}
		return n, ErrnoSUCCESS
	}
}

func collect(pollfds []PollFD, direct []unix.PollFd, index []int) int32 {
	for j, fd := range direct {
		pollfds[index[j]].Revents = fromUnixPollEvents(fd.Revents)
	}
	var count int32
	for i := range pollfds {
		if pollfds[i].Revents != 0 {
			count++
		}
	}
	return count
}
