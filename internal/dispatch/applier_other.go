//go:build !linux

package dispatch

import "errors"

func openIPTables(bool) (ruleAppender, error) {
	return nil, errors.New("iptables is only available on linux")
}
