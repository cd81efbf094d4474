//go:build windows

package security

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	cryptProtectUIForbidden  = 0x1
	cryptProtectLocalMachine = 0x4
)

var dpapiEntropy = []byte("tis-agent credential v1")

// DPAPIProtector uses the Windows Data Protection API scoped to the local machine
type DPAPIProtector struct{}

// NewHostProtector returns the default protector for this platform
func NewHostProtector() (Protector, error) {
	return DPAPIProtector{}, nil
}

func newBlob(d []byte) *windows.DataBlob {
	if len(d) == 0 {
		return &windows.DataBlob{}
	}
	return &windows.DataBlob{Size: uint32(len(d)), Data: &d[0]}
}

func blobBytes(b *windows.DataBlob) []byte {
	out := make([]byte, b.Size)
	copy(out, unsafe.Slice(b.Data, b.Size))
	return out
}

// Protect encrypts plaintext with CryptProtectData
func (DPAPIProtector) Protect(plaintext []byte) ([]byte, error) {
	var out windows.DataBlob
	err := windows.CryptProtectData(newBlob(plaintext), nil, newBlob(dpapiEntropy), 0, nil,
		cryptProtectUIForbidden|cryptProtectLocalMachine, &out)
	if err != nil {
		return nil, fmt.Errorf("CryptProtectData failed: %w", err)
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data)))
	return blobBytes(&out), nil
}

// Unprotect decrypts data with CryptUnprotectData
func (DPAPIProtector) Unprotect(ciphertext []byte) ([]byte, error) {
	var out windows.DataBlob
	err := windows.CryptUnprotectData(newBlob(ciphertext), nil, newBlob(dpapiEntropy), 0, nil,
		cryptProtectUIForbidden, &out)
	if err != nil {
		return nil, ErrWrongHost
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(out.Data)))
	return blobBytes(&out), nil
}
