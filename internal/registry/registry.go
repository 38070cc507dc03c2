package registry

import (
	"context"
	"time"
)

// Instance describes one running process registered with the cluster.
type Instance struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// InstanceRegistry tracks which instances exist and carries the desired
// instance count to whatever actually provisions them. The scaling
// controller only publishes the target; an external reconciler reads it.
type InstanceRegistry interface {
	Register(ctx context.Context, instance Instance) error
	Deregister(ctx context.Context, instanceID string) error
	Heartbeat(ctx context.Context, instanceID string) error
	ActiveInstanceCount(ctx context.Context) (int, error)
	ApplyTargetInstanceCount(ctx context.Context, target int) error
	TargetInstanceCount(ctx context.Context) (int, error)
}
