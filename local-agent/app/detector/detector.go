// Package detector locates the Soft Restaurant database on the local machine.
//
// Detection runs a fixed cascade of strategies (install registry, running
// services, SQL Server Browser probe). Each strategy proposes candidates, the
// candidates are filtered by database naming heuristics and the first one
// that connects and carries the expected tables wins.
package detector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// ErrNotDetected is returned when no strategy produced a usable database
var ErrNotDetected = errors.New("pos database not detected")

// ErrUnsupported is returned by strategies that cannot run on this platform
var ErrUnsupported = errors.New("strategy not supported on this platform")

// Method names the strategy that produced a detection
type Method string

const (
	MethodRegistry Method = "registry"
	MethodServices Method = "services"
	MethodProbe    Method = "probe"
	MethodConfig   Method = "config"
)

// Candidate is a database location proposed by a strategy
type Candidate struct {
	Server   string
	Instance string
	Port     int
	Database string
	Version  string
}

// Address returns the server address in SQL Server notation
func (c Candidate) Address() string {
	switch {
	case c.Port > 0:
		return fmt.Sprintf("%s,%d", c.Server, c.Port)
	case c.Instance != "":
		return c.Server + `\` + c.Instance
	}
	return c.Server
}

func (c Candidate) key() string {
	return strings.ToLower(c.Address() + "/" + c.Database)
}

// Strategy proposes candidate databases
type Strategy interface {
	Method() Method
	Candidates(ctx context.Context) ([]Candidate, error)
}

// ProbeInfo is what a successful probe learned about a database
type ProbeInfo struct {
	ConnString string
	Version    string
	EmpresaID  string
}

// Prober connects to a candidate and verifies it is a Soft Restaurant database
type Prober interface {
	Probe(ctx context.Context, c Candidate) (*ProbeInfo, error)
}

// Attempt records the outcome of one strategy
type Attempt struct {
	Method     Method `json:"method"`
	Candidates int    `json:"candidates"`
	Matched    int    `json:"matched"`
	Probed     int    `json:"probed"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of a detection run
type Result struct {
	Success    bool      `json:"success"`
	Method     Method    `json:"method,omitempty"`
	ConnString string    `json:"-"`
	Server     string    `json:"server,omitempty"`
	Instance   string    `json:"instance,omitempty"`
	Database   string    `json:"database,omitempty"`
	Version    string    `json:"version,omitempty"`
	EmpresaID  string    `json:"empresa_id,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
	Attempts   []Attempt `json:"attempts"`
}

// RedactedConnString returns the connection string with any password masked
func (r Result) RedactedConnString() string {
	return RedactConnString(r.ConnString)
}

// String describes the result without exposing credentials
func (r Result) String() string {
	if !r.Success {
		return fmt.Sprintf("not detected after %d strategies", len(r.Attempts))
	}
	return fmt.Sprintf("%s via %s (database=%s, version=%s, conn=%s)",
		r.SQLInstance(), r.Method, r.Database, r.Version, r.RedactedConnString())
}

// SQLInstance returns the detected server and instance in SQL Server notation
func (r Result) SQLInstance() string {
	if r.Instance != "" {
		return r.Server + `\` + r.Instance
	}
	return r.Server
}

// RedactConnString masks the password of a sqlserver:// URL or an ADO style
// key=value connection string.
func RedactConnString(conn string) string {
	if strings.HasPrefix(conn, "sqlserver://") {
		if u, err := url.Parse(conn); err == nil {
			return u.Redacted()
		}
	}
	parts := strings.Split(conn, ";")
	for i, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password", "pwd":
			parts[i] = kv[0] + "=xxxxx"
		}
	}
	return strings.Join(parts, ";")
}

// Detector runs the strategy cascade
type Detector struct {
	strategies []Strategy
	prober     Prober
	logger     *zap.Logger
	clock      clock.Clock
}

// New creates a detector over the given strategies, tried in order
func New(strategies []Strategy, prober Prober, logger *zap.Logger, clk clock.Clock) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Detector{strategies: strategies, prober: prober, logger: logger, clock: clk}
}

// Detect runs every strategy until a candidate connects. A strategy error is
// recorded and the cascade continues. When nothing connects the result has
// Success=false and the error is ErrNotDetected.
func (d *Detector) Detect(ctx context.Context) (Result, error) {
	result := Result{}
	seen := make(map[string]bool)

	for _, s := range d.strategies {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		attempt := Attempt{Method: s.Method()}
		candidates, err := s.Candidates(ctx)
		if err != nil {
			attempt.Error = err.Error()
			d.logger.Debug("detection strategy failed", zap.String("method", string(s.Method())), zap.Error(err))
		}
		attempt.Candidates = len(candidates)

		for _, c := range candidates {
			if !MatchesDatabaseName(c.Database) || seen[c.key()] {
				continue
			}
			seen[c.key()] = true
			attempt.Matched++
			attempt.Probed++

			info, err := d.prober.Probe(ctx, c)
			if err != nil {
				d.logger.Debug("candidate rejected",
					zap.String("method", string(s.Method())),
					zap.String("address", c.Address()),
					zap.String("database", c.Database),
					zap.Error(err),
				)
				continue
			}

			result.Attempts = append(result.Attempts, attempt)
			result.Success = true
			result.Method = s.Method()
			result.ConnString = info.ConnString
			result.Server = c.Server
			result.Instance = c.Instance
			result.Database = c.Database
			result.Version = firstNonEmpty(c.Version, info.Version)
			result.EmpresaID = info.EmpresaID
			result.DetectedAt = d.clock.Now().UTC()
			d.logger.Info("pos database detected", zap.Stringer("result", result))
			return result, nil
		}
		result.Attempts = append(result.Attempts, attempt)
	}

	result.DetectedAt = d.clock.Now().UTC()
	return result, ErrNotDetected
}

// FromConnString builds a result for an explicitly configured connection
func FromConnString(conn string, now time.Time) Result {
	r := Result{
		Success:    true,
		Method:     MethodConfig,
		ConnString: conn,
		DetectedAt: now.UTC(),
	}
	if u, err := url.Parse(conn); err == nil && u.Scheme == "sqlserver" {
		r.Server = u.Hostname()
		r.Instance = strings.Trim(u.Path, "/")
		r.Database = u.Query().Get("database")
	}
	return r
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// StaticDetector reports an explicitly configured connection string
type StaticDetector struct {
	ConnString string
	Clock      clock.Clock
}

// Detect returns the configured connection without probing
func (s StaticDetector) Detect(ctx context.Context) (Result, error) {
	clk := s.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return FromConnString(s.ConnString, clk.Now()), nil
}
