package services

import (
	"context"

	"github.com/Imnotndesh/TrueHub-sub001/internal/rpcclient"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
)

type Alert struct {
	UUID      string     `json:"uuid"`
	Source    string     `json:"source"`
	Klass     string     `json:"klass"`
	Level     string     `json:"level"`
	Node      string     `json:"node"`
	Formatted string     `json:"formatted"`
	Dismissed bool       `json:"dismissed"`
	OneShot   bool       `json:"one_shot"`
	DateTime  *Timestamp `json:"datetime"`
}

type Alerts struct {
	c rpcclient.Caller
}

func NewAlerts(c rpcclient.Caller) *Alerts {
	return &Alerts{c: c}
}

func (a *Alerts) List(ctx context.Context) rpckit.Result[[]Alert] {
	return rpcclient.CallWithResult[[]Alert](ctx, a.c, MethodAlertList)
}
