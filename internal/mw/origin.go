package mw

import (
	"net/url"
	"strings"
)

var loopbackHosts = map[string]bool{"localhost": true, "127.0.0.1": true, "::1": true}

// OriginAllowed 判断浏览器来源是否可信：配置了 clientURL 时只认它；
// 否则接受同源，dev 环境额外接受本机回环地址。空 Origin 视为非浏览器客户端。
func OriginAllowed(env, clientURL, origin, host string) bool {
	if origin == "" {
		return true
	}
	if clientURL = strings.TrimRight(clientURL, "/"); clientURL != "" {
		return origin == clientURL
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, host) {
		return true
	}
	return env == "dev" && loopbackHosts[u.Hostname()]
}
