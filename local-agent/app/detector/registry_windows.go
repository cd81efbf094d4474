//go:build windows

package detector

import (
	"errors"
	"strings"

	"golang.org/x/sys/windows/registry"
)

const (
	nationalSoftKey     = `SOFTWARE\NationalSoft`
	sqlInstanceNamesKey = `SOFTWARE\Microsoft\Microsoft SQL Server\Instance Names\SQL`
)

var registryViews = []uint32{registry.WOW64_64KEY, registry.WOW64_32KEY}

func registryCandidates(h Hints) ([]Candidate, error) {
	var out []Candidate
	var errs []error

	srCandidates, err := nationalSoftCandidates(h)
	if err != nil {
		errs = append(errs, err)
	}
	out = append(out, srCandidates...)

	instances, err := installedSQLInstances()
	if err != nil {
		errs = append(errs, err)
	}
	out = append(out, crossCandidates(h.host(), instances, h.databases())...)

	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// nationalSoftCandidates reads per release keys under SOFTWARE\NationalSoft,
// each of which may name its server, instance and database.
func nationalSoftCandidates(h Hints) ([]Candidate, error) {
	var out []Candidate
	var lastErr error

	for _, view := range registryViews {
		root, err := registry.OpenKey(registry.LOCAL_MACHINE, nationalSoftKey, registry.READ|view)
		if err != nil {
			lastErr = err
			continue
		}
		products, err := root.ReadSubKeyNames(-1)
		root.Close()
		if err != nil {
			lastErr = err
			continue
		}

		for _, product := range products {
			key, err := registry.OpenKey(registry.LOCAL_MACHINE, nationalSoftKey+`\`+product, registry.READ|view)
			if err != nil {
				continue
			}
			c := Candidate{
				Server:   stringValue(key, "Servidor", "Server"),
				Instance: stringValue(key, "Instancia", "Instance"),
				Database: stringValue(key, "BaseDatos", "Database"),
				Version:  stringValue(key, "Version"),
			}
			key.Close()

			if c.Version == "" {
				c.Version = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(product), "soft restaurant"))
			}
			if c.Server == "" || c.Server == "." || strings.EqualFold(c.Server, "(local)") {
				c.Server = h.host()
			}
			if c.Database != "" {
				out = append(out, c)
				continue
			}
			for _, db := range h.databases() {
				cc := c
				cc.Database = db
				out = append(out, cc)
			}
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func installedSQLInstances() ([]string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, sqlInstanceNamesKey, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	names, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	instances := make([]string, 0, len(names))
	for _, n := range names {
		if strings.EqualFold(n, "MSSQLSERVER") {
			instances = append(instances, "")
			continue
		}
		instances = append(instances, n)
	}
	return instances, nil
}

func stringValue(key registry.Key, names ...string) string {
	for _, n := range names {
		if v, _, err := key.GetStringValue(n); err == nil && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
