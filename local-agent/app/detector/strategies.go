package detector

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Hints are operator supplied additions to the built in heuristics
type Hints struct {
	Host           string
	User           string
	Password       string
	ExtraInstances []string
	ExtraDatabases []string
}

func (h Hints) host() string {
	if h.Host == "" {
		return "localhost"
	}
	return h.Host
}

func (h Hints) databases() []string {
	return mergeNames(KnownDatabaseNames, h.ExtraDatabases...)
}

// RegistryStrategy reads Soft Restaurant and SQL Server install registrations
type RegistryStrategy struct {
	hints Hints
}

// NewRegistryStrategy creates the install registry strategy
func NewRegistryStrategy(h Hints) *RegistryStrategy {
	return &RegistryStrategy{hints: h}
}

func (s *RegistryStrategy) Method() Method { return MethodRegistry }

// Candidates returns registry derived candidates
func (s *RegistryStrategy) Candidates(ctx context.Context) ([]Candidate, error) {
	return registryCandidates(s.hints)
}

// ServicesStrategy enumerates running SQL Server services
type ServicesStrategy struct {
	hints Hints
}

// NewServicesStrategy creates the running services strategy
func NewServicesStrategy(h Hints) *ServicesStrategy {
	return &ServicesStrategy{hints: h}
}

func (s *ServicesStrategy) Method() Method { return MethodServices }

// Candidates returns one candidate per running instance and known database
func (s *ServicesStrategy) Candidates(ctx context.Context) ([]Candidate, error) {
	instances, err := runningSQLInstances()
	if err != nil {
		return nil, err
	}
	return crossCandidates(s.hints.host(), instances, s.hints.databases()), nil
}

// BrowserQuerier lists instances announced by the SQL Server Browser
type BrowserQuerier func(ctx context.Context, host string) ([]BrowserInstance, error)

// ProbeStrategy asks the SQL Server Browser for instances and crosses them,
// together with the known instance names, with the known database names.
type ProbeStrategy struct {
	hints  Hints
	query  BrowserQuerier
	logger *zap.Logger
}

// NewProbeStrategy creates the instance enumeration strategy. A nil query
// uses the UDP SQL Server Browser protocol.
func NewProbeStrategy(h Hints, query BrowserQuerier, logger *zap.Logger) *ProbeStrategy {
	if query == nil {
		query = func(ctx context.Context, host string) ([]BrowserInstance, error) {
			return QueryBrowser(ctx, host, 2*time.Second)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProbeStrategy{hints: h, query: query, logger: logger}
}

func (s *ProbeStrategy) Method() Method { return MethodProbe }

// Candidates returns browser and pattern derived candidates. A browser
// failure only narrows the result to the known instance names.
func (s *ProbeStrategy) Candidates(ctx context.Context) ([]Candidate, error) {
	host := s.hints.host()

	announced, err := s.query(ctx, host)
	if err != nil {
		s.logger.Debug("sql browser query failed", zap.String("host", host), zap.Error(err))
	}

	names := make([]string, 0, len(announced))
	ports := make(map[string]int, len(announced))
	for _, inst := range announced {
		names = append(names, inst.Instance)
		ports[strings.ToLower(inst.Instance)] = inst.TCPPort
	}

	instances := mergeNames(names, mergeNames(s.hints.ExtraInstances, KnownInstanceNames...)...)
	out := crossCandidates(host, instances, s.hints.databases())
	for i := range out {
		out[i].Port = ports[strings.ToLower(out[i].Instance)]
	}
	return out, nil
}

// NewDefault builds the standard registry, services and probe cascade
func NewDefault(h Hints, logger *zap.Logger) *Detector {
	strategies := []Strategy{
		NewRegistryStrategy(h),
		NewServicesStrategy(h),
		NewProbeStrategy(h, nil, logger),
	}
	return New(strategies, NewSQLProber(h.User, h.Password, 5*time.Second), logger, clock.WallClock)
}
