package counter

import (
	"errors"
	"fmt"

	"github.com/example/sourced-repo/internal/domain/entity"
	"github.com/example/sourced-repo/internal/infrastructure/store"
)

const EntityName = "Counter"

const (
	MethodInit      = "init"
	MethodIncrement = "increment"
	MethodAdd       = "add"
)

// Notifications emitted after a successful commit
const (
	NotificationInitialized = "initialized"
	NotificationIncremented = "incremented"
)

// OwnerIndex is the snapshot attribute counters can be looked up by
const OwnerIndex = "owner"

var (
	ErrCounterNotFound    = errors.New("counter not found")
	ErrInvalidID          = errors.New("counter id is required")
	ErrAlreadyInitialized = errors.New("counter is already initialized")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrUnknownMethod      = errors.New("unknown counter method")
)

type Counter struct {
	entity.Entity
	Owner string `json:"owner,omitempty"`
	Total int    `json:"total"`
}

type initData struct {
	ID    string `json:"id"`
	Owner string `json:"owner,omitempty"`
}

type addData struct {
	Amount int `json:"amount"`
}

func New() *Counter {
	return &Counter{}
}

// Reconstruct rebuilds a counter from its latest snapshot and later events
func Reconstruct(snapshot *store.Snapshot, events []store.Event) (*Counter, error) {
	c := New()
	if err := c.Restore(snapshot, c); err != nil {
		return nil, err
	}
	if err := c.Replay(events, c.apply); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Counter) Init(id, owner string) error {
	if id == "" {
		return ErrInvalidID
	}
	if c.ID != "" && !c.Replaying() {
		return ErrAlreadyInitialized
	}
	c.ID = id
	c.Owner = owner
	if err := c.Digest(MethodInit, initData{ID: id, Owner: owner}); err != nil {
		return err
	}
	c.Enqueue(NotificationInitialized, id)
	return nil
}

func (c *Counter) Increment() error {
	c.Total++
	if err := c.Digest(MethodIncrement, nil); err != nil {
		return err
	}
	c.Enqueue(NotificationIncremented, c.Total)
	return nil
}

func (c *Counter) Add(amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	c.Total += amount
	if err := c.Digest(MethodAdd, addData{Amount: amount}); err != nil {
		return err
	}
	c.Enqueue(NotificationIncremented, c.Total)
	return nil
}

// Snapshot captures the counter, owner included so it can be found by OwnerIndex
func (c *Counter) Snapshot() (store.Snapshot, error) {
	return c.TakeSnapshot(c)
}

func (c *Counter) apply(event store.Event) error {
	switch event.Method {
	case MethodInit:
		var data initData
		if err := entity.DecodeData(event, &data); err != nil {
			return err
		}
		if data.ID == "" {
			data.ID = event.ID
		}
		return c.Init(data.ID, data.Owner)
	case MethodIncrement:
		return c.Increment()
	case MethodAdd:
		var data addData
		if err := entity.DecodeData(event, &data); err != nil {
			return err
		}
		return c.Add(data.Amount)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMethod, event.Method)
	}
}
