//go:build !(linux || darwin || windows)

package tcpinfo

import (
	"fmt"
	"runtime"
)

func Supported() bool {
	return false
}

func Get(fd uintptr) (Sample, error) {
	return Sample{}, fmt.Errorf("tcpinfo: unsupported on %s", runtime.GOOS)
}
