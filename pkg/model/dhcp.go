package model

import "time"

const MsgTypeUnknown = "unknown"

// DHCPEvent 是 agent 上报、server 存储的一条 DHCP 客户端报文摘要。
type DHCPEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Interface    string    `json:"interface"`
	IfIndex      uint32    `json:"if_index"`
	Family       int       `json:"family"`
	SrcMAC       string    `json:"src_mac"`
	SrcIP        string    `json:"src_ip"`
	SrcPort      int       `json:"src_port"`
	MsgType      string    `json:"msg_type"`
	Xid          uint32    `json:"xid"`
	ClientHWAddr string    `json:"client_hw_addr"`
	Hostname     string    `json:"hostname"`
	RequestedIP  string    `json:"requested_ip"`
	PayloadSize  int       `json:"payload_size"`
	Payload      []byte    `json:"payload,omitempty"`
}
