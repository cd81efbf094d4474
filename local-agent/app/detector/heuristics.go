package detector

import (
	"regexp"
	"strings"
)

// KnownInstanceNames are SQL Server instance names Soft Restaurant installs
// commonly use. The empty name is the default instance.
var KnownInstanceNames = []string{"NATIONALSOFT", "SOFTRESTAURANT", "SQLEXPRESS", ""}

// KnownDatabaseNames are database names used by Soft Restaurant releases
var KnownDatabaseNames = []string{
	"softrestaurant12",
	"softrestaurant11",
	"softrestaurant10",
	"softrestaurant95",
	"softrestaurant9",
	"softrestaurant8",
	"softrestaurant",
}

var databaseNamePattern = regexp.MustCompile(`^(softrestaurant[0-9_]*|nationalsoft[a-z0-9_]*|sr[0-9]{1,2}|srdb[0-9]*)$`)

// MatchesDatabaseName reports whether name looks like a Soft Restaurant database
func MatchesDatabaseName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "")
	return n != "" && databaseNamePattern.MatchString(n)
}

// crossCandidates pairs every instance with every database name
func crossCandidates(server string, instances []string, databases []string) []Candidate {
	out := make([]Candidate, 0, len(instances)*len(databases))
	for _, inst := range instances {
		for _, db := range databases {
			out = append(out, Candidate{Server: server, Instance: inst, Database: db})
		}
	}
	return out
}

// mergeNames appends extra names to base without duplicates, ignoring case
func mergeNames(base []string, extra ...string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, n := range list {
			key := strings.ToLower(strings.TrimSpace(n))
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(n))
		}
	}
	return out
}
