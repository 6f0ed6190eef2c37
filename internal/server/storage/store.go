package storage

import (
	"context"
	"database/sql"
	"fmt"

	"dhcptap/pkg/model"
)

const DefaultLimit = 200

type Store interface {
	Insert(ctx context.Context, ev *model.DHCPEvent) error
	// QueryByIP 按源地址或请求地址查询，按时间倒序。
	QueryByIP(ctx context.Context, ip string, limit int) ([]model.DHCPEvent, error)
	// QueryByMAC 按以太网源 MAC 或报文内的客户端硬件地址查询。
	QueryByMAC(ctx context.Context, mac string, limit int) ([]model.DHCPEvent, error)
	Close() error
}

// Columns 是 dhcp_events 表的列顺序，InsertArgs 和 ScanEvents 都按这个顺序。
const Columns = `timestamp, interface, if_index, family, src_mac, src_ip, src_port,
	msg_type, xid, client_hw_addr, hostname, requested_ip, payload_size, payload`

func InsertArgs(ev *model.DHCPEvent) []any {
	return []any{
		ev.Timestamp,
		ev.Interface,
		int64(ev.IfIndex),
		ev.Family,
		ev.SrcMAC,
		ev.SrcIP,
		ev.SrcPort,
		ev.MsgType,
		int64(ev.Xid),
		ev.ClientHWAddr,
		ev.Hostname,
		ev.RequestedIP,
		ev.PayloadSize,
		ev.Payload,
	}
}

func ScanEvents(rows *sql.Rows) ([]model.DHCPEvent, error) {
	out := make([]model.DHCPEvent, 0, 64)
	for rows.Next() {
		var (
			r            model.DHCPEvent
			ifIndex, xid int64
		)
		if err := rows.Scan(
			&r.Timestamp,
			&r.Interface,
			&ifIndex,
			&r.Family,
			&r.SrcMAC,
			&r.SrcIP,
			&r.SrcPort,
			&r.MsgType,
			&xid,
			&r.ClientHWAddr,
			&r.Hostname,
			&r.RequestedIP,
			&r.PayloadSize,
			&r.Payload,
		); err != nil {
			return nil, fmt.Errorf("读取行失败：%w", err)
		}
		r.IfIndex = uint32(ifIndex)
		r.Xid = uint32(xid)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败：%w", err)
	}
	return out, nil
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
