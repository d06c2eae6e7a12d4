// Package flap implements the cat-flap controller: an asynchronous client
// against the vendor API, hosted as one long-lived goroutine serving a
// request channel so the bot thread never spins up a fresh runtime per
// command.
package flap

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/dieriver/balrog-go/internal/servicelog"
)

// LockState mirrors the vendor API's locking modes; the numeric values
// are the wire values and their order matters to UnlockFor.
type LockState int

const (
	Unlocked LockState = iota
	LockedIn
	LockedOut
	LockedAll
	Curfew
	CurfewLocked
	CurfewUnlocked
)

type request struct {
	op    operation
	reply chan response
	petID string
	secs  int
	state LockState
}

type response struct {
	pets    map[string]string
	devices map[string]string
	state   LockState
	err     error
}

type operation int

const (
	opGetPets operation = iota
	opGetDevices
	opGetLockState
	opSetLockState
	opUnlockFor
	opSwitchPet
)

// Client is an HTTP client against the vendor API (SUREPET_USER/
// SUREPET_PASSWORD). Only the shape needed by Controller is declared here
// so it can be faked in tests.
type Client interface {
	GetPets(ctx context.Context) (map[string]string, error)
	GetDevices(ctx context.Context) (map[string]string, error)
	GetLockState(ctx context.Context) (LockState, error)
	SetLockState(ctx context.Context, state LockState) error
	SwitchPetLocation(ctx context.Context, petID string) error
}

// Controller exposes the flap operations over a channel-backed async
// runtime.
type Controller struct {
	client Client
	logger servicelog.Logger
	reqs   chan request
}

func New(client Client, logger servicelog.Logger) *Controller {
	return &Controller{client: client, logger: logger, reqs: make(chan request)}
}

// Run hosts the one long-lived runtime serving flap requests until ctx is
// cancelled. All vendor HTTP calls happen on this goroutine.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.reqs:
			c.serve(ctx, req)
		}
	}
}

func (c *Controller) serve(ctx context.Context, req request) {
	var resp response
	switch req.op {
	case opGetPets:
		resp.pets, resp.err = c.retryGetPets(ctx)
	case opGetDevices:
		resp.devices, resp.err = c.retryGetDevices(ctx)
	case opGetLockState:
		resp.state, resp.err = c.client.GetLockState(ctx)
		if resp.err != nil {
			c.logger.Error("flap: get_lock_state failed, defaulting to LOCKED_OUT", servicelog.Error(resp.err))
			resp.state = LockedOut
			resp.err = nil
		}
	case opSetLockState:
		resp.err = c.client.SetLockState(ctx, req.state)
	case opUnlockFor:
		resp.err = c.unlockFor(ctx, req.secs)
	case opSwitchPet:
		resp.err = c.client.SwitchPetLocation(ctx, req.petID)
	}
	req.reply <- resp
}

func (c *Controller) unlockFor(ctx context.Context, seconds int) error {
	current, err := c.client.GetLockState(ctx)
	if err != nil {
		current = LockedOut
	}
	target := Unlocked
	if current >= Curfew {
		target = CurfewUnlocked
	}
	if err := c.client.SetLockState(ctx, target); err != nil {
		return err
	}
	time.Sleep(time.Duration(seconds) * time.Second)
	return c.client.SetLockState(ctx, current)
}

func (c *Controller) retryGetPets(ctx context.Context) (map[string]string, error) {
	var pets map[string]string
	err := backoff.Retry(func() error {
		var err error
		pets, err = c.client.GetPets(ctx)
		return err
	}, backoff.WithContext(eternalBackoff(), ctx))
	return pets, err
}

func (c *Controller) retryGetDevices(ctx context.Context) (map[string]string, error) {
	var devices map[string]string
	err := backoff.Retry(func() error {
		var err error
		devices, err = c.client.GetDevices(ctx)
		return err
	}, backoff.WithContext(eternalBackoff(), ctx))
	return devices, err
}

func eternalBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0
	return bo
}

// --- public, channel-mediated API called from the bot goroutine ---

func (c *Controller) GetPets(ctx context.Context) (map[string]string, error) {
	r := c.call(ctx, request{op: opGetPets})
	return r.pets, r.err
}

func (c *Controller) GetDevices(ctx context.Context) (map[string]string, error) {
	r := c.call(ctx, request{op: opGetDevices})
	return r.devices, r.err
}

func (c *Controller) GetLockState(ctx context.Context) LockState {
	r := c.call(ctx, request{op: opGetLockState})
	return r.state
}

func (c *Controller) SetLockState(ctx context.Context, state LockState) error {
	r := c.call(ctx, request{op: opSetLockState, state: state})
	return r.err
}

func (c *Controller) UnlockFor(ctx context.Context, seconds int) error {
	r := c.call(ctx, request{op: opUnlockFor, secs: seconds})
	return r.err
}

func (c *Controller) SwitchPetLocation(ctx context.Context, petID string) error {
	r := c.call(ctx, request{op: opSwitchPet, petID: petID})
	return r.err
}

func (c *Controller) call(ctx context.Context, req request) response {
	req.reply = make(chan response, 1)
	select {
	case c.reqs <- req:
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
	select {
	case resp := <-req.reply:
		return resp
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}
