//go:build linux

package connutil

import (
	"net"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	bbrSupported bool
	bbrCheckOnce sync.Once
	ecnSupported bool
	ecnCheckOnce sync.Once
)

// CheckBBRSupport reports whether BBR tuning is enabled: true unless
// HOSTIT_TUNNEL_DISABLE_BBR is set to a value other than "0". It does not
// probe the kernel for BBR.
func CheckBBRSupport() bool {
	bbrCheckOnce.Do(func() {
		bbrSupported = true
		if env := os.Getenv("HOSTIT_TUNNEL_DISABLE_BBR"); env != "" && env != "0" {
			bbrSupported = false
		}
	})
	return bbrSupported
}

// CheckECNSupport reports whether ECN tuning is enabled: true unless
// HOSTIT_TUNNEL_DISABLE_ECN is set to a value other than "0". It does not
// probe the kernel for ECN.
func CheckECNSupport() bool {
	ecnCheckOnce.Do(func() {
		ecnSupported = true
		if env := os.Getenv("HOSTIT_TUNNEL_DISABLE_ECN"); env != "" && env != "0" {
			ecnSupported = false
		}
	})
	return ecnSupported
}

// EnableBBR enables BBR congestion control on a dialed TCP connection.
func EnableBBR(conn *net.TCPConn) error {
	if !CheckBBRSupport() {
		return nil
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		bbr := []byte("bbr\x00")
		_, _, errno := unix.Syscall6(
			unix.SYS_SETSOCKOPT,
			fd,
			unix.IPPROTO_TCP,
			unix.TCP_CONGESTION,
			uintptr(unsafe.Pointer(&bbr[0])),
			uintptr(len(bbr)),
			0,
		)
		if errno != 0 && errno != unix.ENOPROTOOPT {
			setErr = errno
		}
	})
	if err != nil {
		return err
	}
	return setErr
}

// EnableECN enables Explicit Congestion Notification on a dialed TCP connection.
func EnableECN(conn *net.TCPConn) error {
	if !CheckECNSupport() {
		return nil
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		tos := 1
		_, _, errno := unix.Syscall6(
			unix.SYS_SETSOCKOPT,
			fd,
			unix.IPPROTO_IP,
			unix.IP_TOS,
			uintptr(unsafe.Pointer(&tos)),
			unsafe.Sizeof(tos),
			0,
		)
		if errno != 0 && errno != unix.ENOPROTOOPT {
			setErr = errno
		}
	})
	if err != nil {
		return err
	}
	return setErr
}

// EnableAllTCPOptimizations applies every tuning knob this platform supports
// to a freshly dialed connection.
func EnableAllTCPOptimizations(conn *net.TCPConn) error {
	if err := EnableBBR(conn); err != nil {
		return err
	}
	_ = EnableECN(conn)
	return nil
}

// TCPInfo contains a subset of TCP connection statistics, used by the
// health surface to report round-trip estimates for pool connections.
type TCPInfo struct {
	RTT         uint32
	RTTVar      uint32
	SndCwnd     uint32
	SndSsthresh uint32
	RcvMss      uint32
}

// GetTCPInfo retrieves TCP connection information for conn.
func GetTCPInfo(conn *net.TCPConn) (*TCPInfo, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var info *TCPInfo
	var getErr error
	err = raw.Control(func(fd uintptr) {
		var tcpInfo unix.TCPInfo
		var infoLen uint32 = uint32(unix.SizeofTCPInfo)
		_, _, errno := unix.Syscall6(
			unix.SYS_GETSOCKOPT,
			fd,
			unix.IPPROTO_TCP,
			unix.TCP_INFO,
			uintptr(unsafe.Pointer(&tcpInfo)),
			uintptr(unsafe.Pointer(&infoLen)),
			0,
		)
		if errno != 0 {
			getErr = errno
			return
		}
		info = &TCPInfo{
			RTT:         tcpInfo.Rtt,
			RTTVar:      tcpInfo.Rttvar,
			SndCwnd:     tcpInfo.Snd_cwnd,
			SndSsthresh: tcpInfo.Snd_ssthresh,
			RcvMss:      tcpInfo.Rcv_mss,
		}
	})
	if err != nil {
		return nil, err
	}
	if getErr != nil {
		return nil, getErr
	}
	return info, nil
}
