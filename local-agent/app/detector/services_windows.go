//go:build windows

package detector

import (
	"strings"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// runningSQLInstances lists instance names of running SQL Server services.
// MSSQLSERVER maps to the default instance "".
func runningSQLInstances() ([]string, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, err
	}
	defer m.Disconnect()

	names, err := m.ListServices()
	if err != nil {
		return nil, err
	}

	var instances []string
	for _, name := range names {
		upper := strings.ToUpper(name)
		var instance string
		switch {
		case upper == "MSSQLSERVER":
			instance = ""
		case strings.HasPrefix(upper, "MSSQL$"):
			instance = name[len("MSSQL$"):]
		default:
			continue
		}
		if isRunning(m, name) {
			instances = append(instances, instance)
		}
	}
	return instances, nil
}

func isRunning(m *mgr.Mgr, name string) bool {
	s, err := m.OpenService(name)
	if err != nil {
		return false
	}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return false
	}
	return status.State == svc.Running
}
