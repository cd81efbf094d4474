//go:build !windows

package security

// NewHostProtector returns the default protector for this platform
func NewHostProtector() (Protector, error) {
	id, err := machineIdentity()
	if err != nil {
		return nil, err
	}
	return NewAEADProtector(id)
}
