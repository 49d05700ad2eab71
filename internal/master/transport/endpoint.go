package transport

import (
	"net"
	"strings"
)

// DialAddr 把 tcp 绑定地址中的通配主机换成 host，其余地址原样返回
func DialAddr(bind, host string) string {
	const scheme = "tcp://"
	if !strings.HasPrefix(bind, scheme) {
		return bind
	}
	h, port, err := net.SplitHostPort(strings.TrimPrefix(bind, scheme))
	if err != nil {
		return bind
	}
	switch h {
	case "", "*", "0.0.0.0", "::":
		return scheme + net.JoinHostPort(host, port)
	}
	return bind
}
