package agents

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/vegaflow/dsl"
)

type countingFactory struct {
	created atomic.Int32
	prompts []string
	mu      sync.Mutex
	err     error
}

func (f *countingFactory) CreateAgent(ctx context.Context, prompt string, toolNames []string) (Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return EchoFactory{}.CreateAgent(ctx, prompt, toolNames)
}

type memIdentities struct {
	mu   sync.Mutex
	ids  map[string]string
	fail error
}

func (m *memIdentities) EnsureAgentInstance(_ context.Context, wf, name, fp string) (string, error) {
	if m.fail != nil {
		return "", m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = make(map[string]string)
	}
	key := wf + "/" + name + "/" + fp
	if id, ok := m.ids[key]; ok {
		return id, nil
	}
	id := "id-" + name + "-" + fp[:4]
	m.ids[key] = id
	return id, nil
}

func TestPoolReuse(t *testing.T) {
	f := &countingFactory{}
	pool := NewPool(f)
	def := dsl.Agent{Name: "writer", Prompt: "Write.", Output: map[string]any{"text": "string"}}

	a, err := pool.GetOrCreate(context.Background(), "wf", def)
	require.NoError(t, err)
	b, err := pool.GetOrCreate(context.Background(), "wf", def)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int32(1), f.created.Load())
	assert.Contains(t, f.prompts[0], `"text": "string"`)
	assert.NotEmpty(t, a.ID)

	res, err := a.Run(context.Background(), "in")
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.Data.Agent)
}

func TestPoolKeyedByWorkflowAndName(t *testing.T) {
	f := &countingFactory{}
	pool := NewPool(f)

	_, err := pool.GetOrCreate(context.Background(), "wf1", dsl.Agent{Name: "a", Prompt: "p"})
	require.NoError(t, err)
	_, err = pool.GetOrCreate(context.Background(), "wf2", dsl.Agent{Name: "a", Prompt: "p"})
	require.NoError(t, err)
	_, err = pool.GetOrCreate(context.Background(), "wf1", dsl.Agent{Name: "b", Prompt: "p"})
	require.NoError(t, err)

	assert.Equal(t, int32(3), f.created.Load())
	assert.Equal(t, 3, pool.Len())

	pool.Evict("wf1")
	assert.Equal(t, 1, pool.Len())
}

func TestPoolRebuildsChangedDefinition(t *testing.T) {
	f := &countingFactory{}
	pool := NewPool(f)

	a, err := pool.GetOrCreate(context.Background(), "wf", dsl.Agent{Name: "a", Prompt: "v1"})
	require.NoError(t, err)
	b, err := pool.GetOrCreate(context.Background(), "wf", dsl.Agent{Name: "a", Prompt: "v2"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, 1, pool.Len())
}

func TestPoolConcurrentCreateOnce(t *testing.T) {
	f := &countingFactory{}
	pool := NewPool(f)
	def := dsl.Agent{Name: "a", Prompt: "p"}

	var wg sync.WaitGroup
	got := make([]*Instance, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := pool.GetOrCreate(context.Background(), "wf", def)
			assert.NoError(t, err)
			got[i] = inst
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.created.Load())
	for _, inst := range got {
		assert.Same(t, got[0], inst)
	}
}

func TestPoolIdentityStore(t *testing.T) {
	ids := &memIdentities{}
	def := dsl.Agent{Name: "a", Prompt: "p"}

	first, err := NewPool(&countingFactory{}, WithIdentityStore(ids)).GetOrCreate(context.Background(), "wf", def)
	require.NoError(t, err)

	// A fresh pool (e.g. after restart) gets the same stable id.
	second, err := NewPool(&countingFactory{}, WithIdentityStore(ids)).GetOrCreate(context.Background(), "wf", def)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "id-a-"+Fingerprint(def)[:4], first.ID)
}

func TestPoolErrors(t *testing.T) {
	boom := errors.New("boom")

	_, err := NewPool(&countingFactory{err: boom}).GetOrCreate(context.Background(), "wf", dsl.Agent{Name: "a", Prompt: "p"})
	assert.ErrorIs(t, err, boom)

	pool := NewPool(&countingFactory{}, WithIdentityStore(&memIdentities{fail: boom}))
	_, err = pool.GetOrCreate(context.Background(), "wf", dsl.Agent{Name: "a", Prompt: "p"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pool.Len())
}

func TestFingerprint(t *testing.T) {
	base := dsl.Agent{Name: "a", Prompt: "p", Tools: []string{"x"}}
	assert.Equal(t, Fingerprint(base), Fingerprint(base))

	renamed := base
	renamed.Name = "b"
	assert.Equal(t, Fingerprint(base), Fingerprint(renamed))

	retooled := base
	retooled.Tools = []string{"y"}
	assert.NotEqual(t, Fingerprint(base), Fingerprint(retooled))
}

type blockingFactory struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  error
	created atomic.Int32
}

func (f *blockingFactory) CreateAgent(ctx context.Context, prompt string, toolNames []string) (Handle, error) {
	f.created.Add(1)
	close(f.entered)
	<-f.release
	f.ctxErr = ctx.Err()
	return EchoFactory{}.CreateAgent(ctx, prompt, toolNames)
}

func TestPoolCreationOutlivesCancelledCaller(t *testing.T) {
	f := &blockingFactory{entered: make(chan struct{}), release: make(chan struct{})}
	pool := NewPool(f)
	def := dsl.Agent{Name: "a", Prompt: "p"}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := pool.GetOrCreate(ctxA, "wf", def)
		errA <- err
	}()
	<-f.entered

	type result struct {
		inst *Instance
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		inst, err := pool.GetOrCreate(context.Background(), "wf", def)
		resB <- result{inst, err}
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(f.release)
	b := <-resB
	require.NoError(t, b.err)
	require.NotNil(t, b.inst)
	assert.NoError(t, f.ctxErr)
	assert.Equal(t, int32(1), f.created.Load())
	assert.Equal(t, 1, pool.Len())
}
