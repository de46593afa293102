package infra

import (
	"net"

	"license-admission-service/internal/domain"
	"license-admission-service/internal/license"
)

const zeroMAC = "00:00:00:00:00:00"

// NetHost はOSのネットワークインターフェースからMACアドレスを取得する。
type NetHost struct {
	interfaces func() ([]net.Interface, error)
}

// NewNetHost は新しいNetHostを生成する。
func NewNetHost() *NetHost {
	return &NetHost{interfaces: net.Interfaces}
}

// MACAddresses はループバックとゼロアドレスを除いた大文字のMACアドレス集合を返す。
func (h *NetHost) MACAddresses() (map[string]struct{}, error) {
	ifaces, err := h.interfaces()
	if err != nil {
		return nil, err
	}
	macs := collectMACs(ifaces)
	if len(macs) == 0 {
		return nil, domain.ErrNoHostIdentity
	}
	return macs, nil
}

func collectMACs(ifaces []net.Interface) map[string]struct{} {
	macs := make(map[string]struct{})
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := license.NormalizeMAC(iface.HardwareAddr.String())
		if mac == zeroMAC {
			continue
		}
		macs[mac] = struct{}{}
	}
	return macs
}
