package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/everydev1618/vegaflow/dsl"
)

// IdentityStore persists a stable instance id per (workflow, agent) pair.
// A changed fingerprint replaces the stored id.
type IdentityStore interface {
	EnsureAgentInstance(ctx context.Context, workflowID, agentName, fingerprint string) (instanceID string, err error)
}

// Instance is a pooled agent.
type Instance struct {
	ID          string
	WorkflowID  string
	Name        string
	Fingerprint string
	handle      Handle
}

// Run implements Handle. The instance id is reported as the result's agent.
func (i *Instance) Run(ctx context.Context, input string) (*Result, error) {
	res, err := i.handle.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	if res.Data.Agent == "" {
		res.Data.Agent = i.ID
	}
	return res, nil
}

// Pool caches agents by (workflow id, agent name) so repeated runs of the
// same workflow reuse them. An agent whose definition changed is rebuilt.
type Pool struct {
	factory Factory
	ids     IdentityStore

	instances map[string]*Instance
	mu        sync.Mutex
	group     singleflight.Group
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithIdentityStore persists instance ids.
func WithIdentityStore(s IdentityStore) PoolOption {
	return func(p *Pool) {
		p.ids = s
	}
}

// NewPool creates a pool that builds agents with factory.
func NewPool(factory Factory, opts ...PoolOption) *Pool {
	p := &Pool{
		factory:   factory,
		instances: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func poolKey(workflowID, agentName string) string {
	return workflowID + "\x00" + agentName
}

// Fingerprint identifies an agent definition's behaviour: prompt, output
// shape and tool list.
func Fingerprint(def dsl.Agent) string {
	h := sha256.New()
	h.Write([]byte(def.Prompt))
	h.Write([]byte{0})
	if def.Output != nil {
		data, _ := json.Marshal(def.Output)
		h.Write(data)
	}
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(def.Tools, ",")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// GetOrCreate returns the cached agent for workflowID and def.Name, creating
// it when absent or when its definition changed.
func (p *Pool) GetOrCreate(ctx context.Context, workflowID string, def dsl.Agent) (*Instance, error) {
	key := poolKey(workflowID, def.Name)
	fp := Fingerprint(def)

	p.mu.Lock()
	if inst, ok := p.instances[key]; ok && inst.Fingerprint == fp {
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()

	// Creation is shared by concurrent callers and detached from their
	// cancellation; each caller stops waiting on its own ctx.
	ch := p.group.DoChan(key+"\x00"+fp, func() (any, error) {
		return p.create(context.WithoutCancel(ctx), workflowID, def, fp)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) create(ctx context.Context, workflowID string, def dsl.Agent, fp string) (*Instance, error) {
	key := poolKey(workflowID, def.Name)

	// Another caller may have finished first.
	p.mu.Lock()
	if inst, ok := p.instances[key]; ok && inst.Fingerprint == fp {
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()

	handle, err := p.factory.CreateAgent(ctx, BuildPrompt(def.Prompt, def.Output), def.Tools)
	if err != nil {
		return nil, fmt.Errorf("create agent %s: %w", def.Name, err)
	}

	id := uuid.NewString()
	if p.ids != nil && workflowID != "" {
		id, err = p.ids.EnsureAgentInstance(ctx, workflowID, def.Name, fp)
		if err != nil {
			return nil, fmt.Errorf("agent %s identity: %w", def.Name, err)
		}
	}

	inst := &Instance{
		ID:          id,
		WorkflowID:  workflowID,
		Name:        def.Name,
		Fingerprint: fp,
		handle:      handle,
	}

	p.mu.Lock()
	p.instances[key] = inst
	p.mu.Unlock()

	return inst, nil
}

// Evict drops every cached agent of a workflow.
func (p *Pool) Evict(workflowID string) {
	prefix := workflowID + "\x00"

	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.instances {
		if strings.HasPrefix(key, prefix) {
			delete(p.instances, key)
		}
	}
}

// Len returns the number of cached agents.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}
