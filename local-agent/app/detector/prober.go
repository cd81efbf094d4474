package detector

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app/pos"
)

// SQLProber verifies candidates by connecting to them with go-mssqldb
type SQLProber struct {
	user     string
	password string
	timeout  time.Duration
	open     func(driver, dsn string) (*sqlx.DB, error)
}

// NewSQLProber creates a prober. With an empty user, Windows integrated
// authentication is used.
func NewSQLProber(user, password string, timeout time.Duration) *SQLProber {
	return &SQLProber{user: user, password: password, timeout: timeout, open: sqlx.Open}
}

// ConnString builds the go-mssqldb connection URL for a candidate
func (p *SQLProber) ConnString(c Candidate) string {
	u := &url.URL{Scheme: "sqlserver", Host: c.Server}
	switch {
	case c.Port > 0:
		u.Host = net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
	case c.Instance != "":
		u.Path = "/" + c.Instance
	}
	if p.user != "" {
		u.User = url.UserPassword(p.user, p.password)
	}

	q := url.Values{}
	q.Set("database", c.Database)
	q.Set("app name", "tis-agent")
	q.Set("connection timeout", strconv.Itoa(int(p.timeout.Seconds())))
	q.Set("TrustServerCertificate", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// Probe connects to the candidate and checks for the tables the agent reads
func (p *SQLProber) Probe(ctx context.Context, c Candidate) (*ProbeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn := p.ConnString(c)
	db, err := p.open(pos.DriverName, conn)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	found, err := presentTables(ctx, db, sqlbuilder.SQLServer)
	if err != nil {
		return nil, err
	}
	if missing := missingTables(found); len(missing) > 0 {
		return nil, fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
	}

	info := &ProbeInfo{ConnString: conn}
	var empresa string
	if err := db.GetContext(ctx, &empresa, `SELECT TOP 1 CAST(idempresa AS NVARCHAR(64)) FROM empresas ORDER BY idempresa`); err == nil {
		info.EmpresaID = strings.TrimSpace(empresa)
	}
	return info, nil
}

func presentTables(ctx context.Context, db *sqlx.DB, flavor sqlbuilder.Flavor) ([]string, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select("LOWER(TABLE_NAME)")
	sb.From("INFORMATION_SCHEMA.TABLES")
	sb.Where(sb.In("LOWER(TABLE_NAME)", sqlbuilder.Flatten(pos.RequiredTables)...))

	query, args := sb.Build()
	var names []string
	if err := db.SelectContext(ctx, &names, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return names, nil
}

func missingTables(found []string) []string {
	have := make(map[string]bool, len(found))
	for _, f := range found {
		have[strings.ToLower(f)] = true
	}
	var missing []string
	for _, t := range pos.RequiredTables {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	return missing
}
