//go:build !windows

package detector

func runningSQLInstances() ([]string, error) {
	return nil, ErrUnsupported
}
