//go:build !windows

package detector

func registryCandidates(h Hints) ([]Candidate, error) {
	return nil, ErrUnsupported
}
