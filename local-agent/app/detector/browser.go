package detector

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	browserPort       = 1434
	browserUnicastReq = 0x03
	browserResponse   = 0x05
)

// BrowserInstance is one instance announced by the SQL Server Browser
type BrowserInstance struct {
	Server   string
	Instance string
	Version  string
	TCPPort  int
}

// QueryBrowser asks the SQL Server Browser on host for its instance list
func QueryBrowser(ctx context.Context, host string, timeout time.Duration) ([]BrowserInstance, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(browserPort)))
	if err != nil {
		return nil, fmt.Errorf("failed to dial sql browser: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte{browserUnicastReq}); err != nil {
		return nil, fmt.Errorf("failed to query sql browser: %w", err)
	}

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read sql browser response: %w", err)
	}
	return parseBrowserResponse(buf[:n])
}

// parseBrowserResponse decodes an SVR_RESP message: 0x05, a little endian
// uint16 length, then ";;" separated instance records of key;value pairs.
func parseBrowserResponse(msg []byte) ([]BrowserInstance, error) {
	if len(msg) < 3 || msg[0] != browserResponse {
		return nil, fmt.Errorf("unexpected sql browser response")
	}
	size := int(binary.LittleEndian.Uint16(msg[1:3]))
	body := msg[3:]
	if size < len(body) {
		body = body[:size]
	}

	var out []BrowserInstance
	for _, record := range strings.Split(string(body), ";;") {
		fields := strings.Split(record, ";")
		if len(fields) < 2 {
			continue
		}
		values := make(map[string]string, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			values[strings.ToLower(fields[i])] = fields[i+1]
		}

		inst := BrowserInstance{
			Server:   values["servername"],
			Instance: values["instancename"],
			Version:  values["version"],
		}
		if inst.Instance == "" && inst.Server == "" {
			continue
		}
		if strings.EqualFold(inst.Instance, "MSSQLSERVER") {
			inst.Instance = ""
		}
		if port, err := strconv.Atoi(values["tcp"]); err == nil {
			inst.TCPPort = port
		}
		out = append(out, inst)
	}
	return out, nil
}
