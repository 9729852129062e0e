package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jacentio/attrmap/backend"
)

// Provisioner creates containers before first use. Existing containers are listed once; a
// container reported missing later is forgotten so that the next call creates it again. The
// failing call still returns the error.
type Provisioner struct {
	next   Operations
	client backend.Client
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

// NewProvisioner wraps next, creating containers through client.
func NewProvisioner(next Operations, client backend.Client, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{next: next, client: client, logger: logger}
}

// ensure creates container unless it is known to exist. The lock spans the list and the
// create so that concurrent first callers share one sequence.
func (p *Provisioner) ensure(ctx context.Context, container string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.known == nil {
		names, err := backend.ListAllContainers(ctx, p.client)
		if err != nil {
			return err
		}
		p.known = make(map[string]bool, len(names))
		for _, name := range names {
			p.known[name] = true
		}
	}
	if p.known[container] {
		return nil
	}
	p.logger.Info("creating container", "container", container)
	if err := p.client.CreateContainer(ctx, container); err != nil {
		return err
	}
	p.known[container] = true
	return nil
}

// check forgets container when err reports it missing. err is returned unchanged.
func (p *Provisioner) check(container string, err error) error {
	if errors.Is(err, backend.ErrContainerNotFound) {
		p.mu.Lock()
		delete(p.known, container)
		p.mu.Unlock()
		p.logger.Warn("container missing, purged from known containers", "container", container)
	}
	return err
}

// Known reports whether container is in the known set.
func (p *Provisioner) Known(container string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.known[container]
}

func (p *Provisioner) Put(ctx context.Context, d *ItemDescriptor, items ...*Values) error {
	if err := p.ensure(ctx, d.Container); err != nil {
		return err
	}
	return p.check(d.Container, p.next.Put(ctx, d, items...))
}

func (p *Provisioner) Get(ctx context.Context, d *ItemDescriptor, id any, fields ...string) (*Values, error) {
	if err := p.ensure(ctx, d.Container); err != nil {
		return nil, err
	}
	v, err := p.next.Get(ctx, d, id, fields...)
	return v, p.check(d.Container, err)
}

func (p *Provisioner) Delete(ctx context.Context, d *ItemDescriptor, ids []any, fields ...string) error {
	if err := p.ensure(ctx, d.Container); err != nil {
		return err
	}
	return p.check(d.Container, p.next.Delete(ctx, d, ids, fields...))
}

func (p *Provisioner) Select(ctx context.Context, cmd *SelectCommand) (*SelectResult, error) {
	sel, err := cmd.parse()
	if err != nil {
		return nil, err
	}
	if err := p.ensure(ctx, sel.Container); err != nil {
		return nil, err
	}
	res, err := p.next.Select(ctx, cmd)
	return res, p.check(sel.Container, err)
}

func (p *Provisioner) SelectScalar(ctx context.Context, cmd *SelectCommand) (any, error) {
	sel, err := cmd.parse()
	if err != nil {
		return nil, err
	}
	if err := p.ensure(ctx, sel.Container); err != nil {
		return nil, err
	}
	v, err := p.next.SelectScalar(ctx, cmd)
	return v, p.check(sel.Container, err)
}

var _ Operations = (*Provisioner)(nil)
