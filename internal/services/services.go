// Package services wraps middleware namespaces. Each method supplies only the
// RPC name, its ordered params and the result type.
package services

import "github.com/Imnotndesh/TrueHub-sub001/internal/rpcclient"

// Set bundles the services sharing one caller.
type Set struct {
	Auth   *Auth
	System *System
	Pools  *Pools
	Alerts *Alerts
}

func NewSet(c rpcclient.Caller) *Set {
	return &Set{
		Auth:   NewAuth(c),
		System: NewSystem(c),
		Pools:  NewPools(c),
		Alerts: NewAlerts(c),
	}
}
