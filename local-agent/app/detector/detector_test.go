package detector

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	method     Method
	candidates []Candidate
	err        error
	calls      int
}

func (f *fakeStrategy) Method() Method { return f.method }

func (f *fakeStrategy) Candidates(ctx context.Context) ([]Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

type fakeProber struct {
	accept map[string]bool
	probed []string
}

func (f *fakeProber) Probe(ctx context.Context, c Candidate) (*ProbeInfo, error) {
	f.probed = append(f.probed, c.Address()+"/"+c.Database)
	if f.accept[c.Address()+"/"+c.Database] {
		return &ProbeInfo{ConnString: "sqlserver://sa:hunter2@" + c.Server + "?database=" + c.Database, EmpresaID: "1"}, nil
	}
	return nil, errors.New("login failed")
}

func TestDetect_StrategyErrorDoesNotAbortCascade(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	registry := &fakeStrategy{method: MethodRegistry, err: ErrUnsupported}
	services := &fakeStrategy{method: MethodServices, candidates: []Candidate{
		{Server: "localhost", Instance: "SQLEXPRESS", Database: "master"},
		{Server: "localhost", Instance: "SQLEXPRESS", Database: "softrestaurant10"},
	}}
	probe := &fakeStrategy{method: MethodProbe}
	prober := &fakeProber{accept: map[string]bool{`localhost\SQLEXPRESS/softrestaurant10`: true}}

	d := New([]Strategy{registry, services, probe}, prober, nil, testclock.NewClock(now))
	result, err := d.Detect(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, MethodServices, result.Method)
	assert.Equal(t, "SQLEXPRESS", result.Instance)
	assert.Equal(t, "softrestaurant10", result.Database)
	assert.Equal(t, "1", result.EmpresaID)
	assert.Equal(t, now, result.DetectedAt)
	assert.Equal(t, 0, probe.calls, "cascade stops at the first match")

	// master is filtered out by the naming heuristics before probing
	assert.Equal(t, []string{`localhost\SQLEXPRESS/softrestaurant10`}, prober.probed)

	require.Len(t, result.Attempts, 2)
	assert.Equal(t, ErrUnsupported.Error(), result.Attempts[0].Error)
	assert.Equal(t, 2, result.Attempts[1].Candidates)
	assert.Equal(t, 1, result.Attempts[1].Matched)

	assert.NotContains(t, result.String(), "hunter2")
}

func TestDetect_NotDetected(t *testing.T) {
	candidate := Candidate{Server: "localhost", Database: "softrestaurant11"}
	first := &fakeStrategy{method: MethodRegistry, candidates: []Candidate{candidate}}
	second := &fakeStrategy{method: MethodProbe, candidates: []Candidate{candidate}}
	prober := &fakeProber{}

	d := New([]Strategy{first, second}, prober, nil, testclock.NewClock(time.Now()))
	result, err := d.Detect(context.Background())

	assert.ErrorIs(t, err, ErrNotDetected)
	assert.False(t, result.Success)
	assert.Len(t, result.Attempts, 2)
	assert.Len(t, prober.probed, 1, "duplicate candidates are probed once")
}

func TestDetect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New([]Strategy{&fakeStrategy{method: MethodProbe}}, &fakeProber{}, nil, nil)
	_, err := d.Detect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchesDatabaseName(t *testing.T) {
	for _, name := range []string{"SoftRestaurant10", "softrestaurant", "Soft Restaurant 11", "SR10", "srdb", "NationalSoftDB"} {
		assert.True(t, MatchesDatabaseName(name), name)
	}
	for _, name := range []string{"", "master", "tempdb", "Sales", "srx"} {
		assert.False(t, MatchesDatabaseName(name), name)
	}
}

func TestProbeStrategy_MergesBrowserAndKnownInstances(t *testing.T) {
	query := func(ctx context.Context, host string) ([]BrowserInstance, error) {
		assert.Equal(t, "pos-server", host)
		return []BrowserInstance{{Instance: "NATIONALSOFT", TCPPort: 49172}, {Instance: "CUSTOM"}}, nil
	}
	s := NewProbeStrategy(Hints{Host: "pos-server", ExtraDatabases: []string{"SR_Sucursal"}}, query, nil)

	candidates, err := s.Candidates(context.Background())
	require.NoError(t, err)

	instances := map[string]int{}
	databases := map[string]bool{}
	for _, c := range candidates {
		instances[c.Instance] = c.Port
		databases[c.Database] = true
	}
	assert.Equal(t, 49172, instances["NATIONALSOFT"])
	assert.Contains(t, instances, "CUSTOM")
	assert.Contains(t, instances, "SQLEXPRESS")
	assert.Contains(t, instances, "")
	assert.True(t, databases["SR_Sucursal"])
	assert.True(t, databases["softrestaurant10"])
	assert.Len(t, candidates, 5*(len(KnownDatabaseNames)+1))
}

func TestProbeStrategy_BrowserFailureFallsBackToPatterns(t *testing.T) {
	query := func(ctx context.Context, host string) ([]BrowserInstance, error) {
		return nil, errors.New("timeout")
	}
	s := NewProbeStrategy(Hints{}, query, nil)

	candidates, err := s.Candidates(context.Background())
	require.NoError(t, err)
	assert.Len(t, candidates, len(KnownInstanceNames)*len(KnownDatabaseNames))
	assert.Equal(t, "localhost", candidates[0].Server)
}

func browserMessage(body string) []byte {
	msg := []byte{browserResponse, 0, 0}
	binary.LittleEndian.PutUint16(msg[1:3], uint16(len(body)))
	return append(msg, body...)
}

func TestParseBrowserResponse(t *testing.T) {
	body := "ServerName;POS01;InstanceName;NATIONALSOFT;IsClustered;No;Version;15.0.2000.5;tcp;49172;;" +
		"ServerName;POS01;InstanceName;MSSQLSERVER;IsClustered;No;Version;16.0.1000.6;tcp;1433;;"

	instances, err := parseBrowserResponse(browserMessage(body))
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, BrowserInstance{Server: "POS01", Instance: "NATIONALSOFT", Version: "15.0.2000.5", TCPPort: 49172}, instances[0])
	assert.Equal(t, "", instances[1].Instance)
	assert.Equal(t, 1433, instances[1].TCPPort)

	_, err = parseBrowserResponse([]byte{0x04, 0x00})
	assert.Error(t, err)
}

func TestSQLProber_ConnString(t *testing.T) {
	p := NewSQLProber("sa", "p@ss;word", 5*time.Second)

	named := p.ConnString(Candidate{Server: "localhost", Instance: "NATIONALSOFT", Database: "softrestaurant10"})
	assert.True(t, strings.HasPrefix(named, "sqlserver://sa:"))
	assert.Contains(t, named, "/NATIONALSOFT?")
	assert.Contains(t, named, "database=softrestaurant10")

	ported := p.ConnString(Candidate{Server: "localhost", Instance: "NATIONALSOFT", Port: 49172, Database: "sr10"})
	assert.Contains(t, ported, "localhost:49172")
	assert.NotContains(t, ported, "/NATIONALSOFT")

	assert.NotContains(t, RedactConnString(named), "p@ss")
}

func TestRedactConnString_KeyValue(t *testing.T) {
	got := RedactConnString("server=localhost;user id=sa;Password=secret;database=sr10")
	assert.Equal(t, "server=localhost;user id=sa;Password=xxxxx;database=sr10", got)
}

func TestMissingTables(t *testing.T) {
	assert.Empty(t, missingTables([]string{"cheques", "CHEQDET", "productos", "insumos", "mesas"}))
	assert.Equal(t, []string{"insumos", "mesas"}, missingTables([]string{"cheques", "cheqdet", "productos"}))
}

func TestFromConnString(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := FromConnString("sqlserver://sa:x@pos01/NATIONALSOFT?database=softrestaurant11", now)

	assert.True(t, r.Success)
	assert.Equal(t, MethodConfig, r.Method)
	assert.Equal(t, "pos01", r.Server)
	assert.Equal(t, "NATIONALSOFT", r.Instance)
	assert.Equal(t, "softrestaurant11", r.Database)
	assert.Equal(t, `pos01\NATIONALSOFT`, r.SQLInstance())
}
