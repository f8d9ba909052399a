package services

import (
	"context"

	"github.com/Imnotndesh/TrueHub-sub001/internal/rpcclient"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
)

type Pool struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	GUID          string `json:"guid"`
	Path          string `json:"path"`
	Status        string `json:"status"`
	Healthy       bool   `json:"healthy"`
	Warning       bool   `json:"warning"`
	Size          int64  `json:"size"`
	Allocated     int64  `json:"allocated"`
	Free          int64  `json:"free"`
	Fragmentation string `json:"fragmentation"`
}

// QueryOptions is the options object of the middleware's generic query
// methods.
type QueryOptions struct {
	Select   []string `json:"select,omitempty"`
	OrderBy  []string `json:"order_by,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
	Extended *bool    `json:"extend_context,omitempty"`
}

type Pools struct {
	c rpcclient.Caller
}

func NewPools(c rpcclient.Caller) *Pools {
	return &Pools{c: c}
}

// Query lists pools. Filters use the middleware's [[field, op, value], ...]
// form; nil means no filtering.
func (p *Pools) Query(ctx context.Context, filters [][]any, opts QueryOptions) rpckit.Result[[]Pool] {
	if filters == nil {
		filters = [][]any{}
	}
	return rpcclient.CallWithResult[[]Pool](ctx, p.c, MethodPoolQuery, filters, opts)
}
