package network

// x/sys/unix 在 linux 上只导出 EPOLL* 形式的这几位。
const (
	pollRdNorm = 0x40
	pollRdBand = 0x80
	pollWrBand = 0x200
)
