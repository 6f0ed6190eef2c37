package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"dhcptap/pkg/model"
)

func Run(ctx context.Context, cfg Config) error {
	rows, err := Query(ctx, cfg)
	if err != nil {
		return err
	}
	renderTable(os.Stdout, rows)
	return nil
}

func Query(ctx context.Context, cfg Config) ([]model.DHCPEvent, error) {
	server := cfg.Server
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("server 参数非法：%w", err)
	}
	u.Path = "/api/v1/query"
	q := u.Query()
	if cfg.MAC != "" {
		q.Set("mac", cfg.MAC)
	} else {
		q.Set("ip", cfg.IP)
	}
	if cfg.Limit > 0 {
		q.Set("limit", strconv.Itoa(cfg.Limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败：%w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("查询失败：status=%s body=%s", resp.Status, string(b))
	}

	var rows []model.DHCPEvent
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("解析响应 JSON 失败：%w", err)
	}
	return rows, nil
}

func renderTable(w io.Writer, rows []model.DHCPEvent) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Time", "Interface", "Type", "XID", "Source MAC", "Source", "Client HW", "Hostname", "Requested IP", "Size"})
	t.SetAutoWrapText(false)
	t.SetRowLine(false)

	for _, r := range rows {
		t.Append([]string{
			r.Timestamp.Format(time.RFC3339Nano),
			r.Interface,
			r.MsgType,
			fmt.Sprintf("0x%x", r.Xid),
			r.SrcMAC,
			net.JoinHostPort(r.SrcIP, strconv.Itoa(r.SrcPort)),
			r.ClientHWAddr,
			r.Hostname,
			r.RequestedIP,
			strconv.Itoa(r.PayloadSize),
		})
	}
	t.Render()
}
