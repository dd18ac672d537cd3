package registrar

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/submit"
)

var (
	registryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	agentAddr    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

type fakeRegistry struct {
	registered map[common.Address]bool
	err        error
}

func (f *fakeRegistry) IsRegistered(_ context.Context, agent common.Address) (bool, error) {
	return f.registered[agent], f.err
}

func (f *fakeRegistry) AllAgents(context.Context) ([]common.Address, error) {
	var out []common.Address
	for a := range f.registered {
		out = append(out, a)
	}
	return out, nil
}

// fakeSender marks the agent registered once the tx "lands".
type fakeSender struct {
	registry *fakeRegistry
	calls    [][]byte
	err      error
}

func (f *fakeSender) Send(_ context.Context, to common.Address, data []byte) (submit.TxResult, error) {
	f.calls = append(f.calls, data)
	if f.err != nil {
		return submit.TxResult{}, f.err
	}
	if f.registry.registered == nil {
		f.registry.registered = map[common.Address]bool{}
	}
	f.registry.registered[agentAddr] = true
	return submit.TxResult{Hash: common.HexToHash("0xabc")}, nil
}

func TestSetupIsIdempotent(t *testing.T) {
	reg := &fakeRegistry{}
	sender := &fakeSender{registry: reg}
	r := New(reg, registryAddr, sender, agentAddr, nil)
	ctx := context.Background()

	out, err := r.Setup(ctx)
	require.NoError(t, err)
	assert.Equal(t, Registered, out)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, chain.RegistryABI.Methods["registerAgent"].ID, sender.calls[0][:4])

	out, err = r.Setup(ctx)
	require.NoError(t, err)
	assert.Equal(t, AlreadyRegistered, out)
	assert.Len(t, sender.calls, 1)
}

func TestSetupWithoutRegistry(t *testing.T) {
	out, err := New(nil, common.Address{}, nil, agentAddr, nil).Setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Skipped, out)
}

func TestSetupErrors(t *testing.T) {
	ctx := context.Background()

	_, err := New(&fakeRegistry{}, registryAddr, nil, common.Address{}, nil).Setup(ctx)
	assert.ErrorIs(t, err, submit.ErrNoSigner)

	_, err = New(&fakeRegistry{err: chain.ErrRead}, registryAddr, nil, agentAddr, nil).Setup(ctx)
	assert.ErrorIs(t, err, chain.ErrRead)

	reg := &fakeRegistry{}
	_, err = New(reg, registryAddr, &fakeSender{registry: reg, err: submit.ErrSubmissionFailed}, agentAddr, nil).Setup(ctx)
	assert.True(t, errors.Is(err, submit.ErrSubmissionFailed))
	assert.Equal(t, "skipped", Skipped.String())
}
