package services

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/Imnotndesh/TrueHub-sub001/internal/rpcclient"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
)

const (
	MethodSystemInfo    = "system.info"
	MethodSystemVersion = "system.version"
	MethodPoolQuery     = "pool.query"
	MethodAlertList     = "alert.list"
)

// Timestamp decodes the middleware's {"$date": <unix millis>} wrapper as
// well as plain RFC 3339 strings.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if rpckit.IsNullResult(raw) {
		return nil
	}
	if raw[0] == '{' {
		var wrapped struct {
			Date int64 `json:"$date"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return err
		}
		t.Time = time.UnixMilli(wrapped.Date).UTC()
		return nil
	}
	return json.Unmarshal(raw, &t.Time)
}

type SystemInfo struct {
	Version       string     `json:"version"`
	Hostname      string     `json:"hostname"`
	Model         string     `json:"model"`
	Cores         int        `json:"cores"`
	PhysicalCores int        `json:"physical_cores"`
	PhysMem       int64      `json:"physmem"`
	LoadAvg       []float64  `json:"loadavg"`
	Uptime        string     `json:"uptime"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	SystemSerial  string     `json:"system_serial"`
	SystemProduct string     `json:"system_product"`
	Manufacturer  string     `json:"system_manufacturer"`
	ECCMemory     bool       `json:"ecc_memory"`
	Timezone      string     `json:"timezone"`
	BootTime      *Timestamp `json:"boottime"`
	DateTime      *Timestamp `json:"datetime"`
}

type System struct {
	c rpcclient.Caller
}

func NewSystem(c rpcclient.Caller) *System {
	return &System{c: c}
}

func (s *System) Info(ctx context.Context) rpckit.Result[SystemInfo] {
	return rpcclient.CallWithResult[SystemInfo](ctx, s.c, MethodSystemInfo)
}

func (s *System) Version(ctx context.Context) rpckit.Result[string] {
	return rpcclient.CallWithResult[string](ctx, s.c, MethodSystemVersion)
}
