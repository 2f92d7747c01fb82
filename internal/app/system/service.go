package system

import "context"

// Service is a lifecycle-managed component. Background workers such as the
// guide reloader and the upload sweeper register as Services so startup and
// shutdown stay deterministic.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service for components that expose operations but
// run no background work of their own.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string                { return s.ServiceName }
func (s NoopService) Start(context.Context) error { return nil }
func (s NoopService) Stop(context.Context) error  { return nil }
