package registrar

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/logging"
	"oraclebridge/internal/submit"
)

// Sender sends a signed call and waits for its receipt.
type Sender interface {
	Send(ctx context.Context, to common.Address, data []byte) (submit.TxResult, error)
}

type Outcome int

const (
	Skipped Outcome = iota
	AlreadyRegistered
	Registered
)

func (o Outcome) String() string {
	switch o {
	case AlreadyRegistered:
		return "already_registered"
	case Registered:
		return "registered"
	default:
		return "skipped"
	}
}

// Registrar performs the optional setup phase that enrolls the agent with
// the registry contract.
type Registrar struct {
	registry chain.Registry
	address  common.Address
	sender   Sender
	agent    common.Address
	log      *zap.Logger
}

// New returns a Registrar for registry at address. A nil registry or zero
// address disables the setup phase.
func New(registry chain.Registry, address common.Address, sender Sender, agent common.Address, log *zap.Logger) *Registrar {
	return &Registrar{registry: registry, address: address, sender: sender, agent: agent, log: logging.OrNop(log)}
}

// Setup registers the agent unless it already is. Calling it again after a
// successful registration is a no-op.
func (r *Registrar) Setup(ctx context.Context) (Outcome, error) {
	if r.registry == nil || r.address == (common.Address{}) {
		r.log.Info("no registry configured, skipping registration")
		return Skipped, nil
	}
	if r.agent == (common.Address{}) {
		return Skipped, fmt.Errorf("register: %w", submit.ErrNoSigner)
	}
	ok, err := r.registry.IsRegistered(ctx, r.agent)
	if err != nil {
		return Skipped, fmt.Errorf("registration check: %w", err)
	}
	if ok {
		r.log.Info("agent already registered", zap.String("agent", r.agent.Hex()))
		return AlreadyRegistered, nil
	}
	if r.sender == nil {
		return Skipped, errors.New("register: no transaction sender")
	}
	data, err := chain.PackRegister(r.agent)
	if err != nil {
		return Skipped, err
	}
	res, err := r.sender.Send(ctx, r.address, data)
	if err != nil {
		return Skipped, fmt.Errorf("register agent %s: %w", r.agent.Hex(), err)
	}
	r.log.Info("agent registered",
		zap.String("agent", r.agent.Hex()),
		zap.String("tx", res.Hash.Hex()))
	return Registered, nil
}
