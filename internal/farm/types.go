package farm

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingAccount is returned when the positional account layout assumed for a
	// Farm instruction references an account the transaction does not have.
	ErrMissingAccount = errors.New("missing correlated account")

	// ErrMissingMetadata is returned when a transaction lacks its message, meta or signature.
	ErrMissingMetadata = errors.New("missing transaction metadata")
)

// Transactions is one batch of decoded transactions as delivered by the source.
type Transactions struct {
	Transactions []*ConfirmedTransaction
}

// ConfirmedTransaction holds a transaction and its execution metadata.
type ConfirmedTransaction struct {
	Transaction *Transaction
	Meta        *TransactionMeta
}

// Transaction carries raw signatures (64 bytes each) and the message.
type Transaction struct {
	Signatures [][]byte
	Message    *Message
}

// Message carries the ordered account keys (32 bytes each). Order is load-bearing.
type Message struct {
	AccountKeys [][]byte
}

// TransactionMeta carries the program log lines in execution order.
type TransactionMeta struct {
	Err         interface{}
	LogMessages []string
}

// EventKind identifies an Event variant
type EventKind int

const (
	KindInitialize EventKind = iota
	KindRestartOrAdd
	KindNewReward
)

// String returns the wire name of the kind
func (k EventKind) String() string {
	switch k {
	case KindInitialize:
		return "initialize"
	case KindRestartOrAdd:
		return "restart_or_add"
	case KindNewReward:
		return "new_reward"
	default:
		return "unknown"
	}
}

// Event is one structured Farm program event reconstructed from logs.
type Event interface {
	Kind() EventKind
	TxSignature() string
}

// InitializeEvent is emitted for a farm initialization.
type InitializeEvent struct {
	Signature   string   `json:"signature"`
	FarmID      string   `json:"farm_id"`
	User        string   `json:"user"`
	LpMint      string   `json:"lp_mint"`
	RewardMints []string `json:"reward_mints"`
	StartTime   uint32   `json:"start_time"`
	EndTime     uint32   `json:"end_time"`
}

// Event implementations

func (e *InitializeEvent) Kind() EventKind     { return KindInitialize }
func (e *InitializeEvent) TxSignature() string { return e.Signature }

// RestartOrAddEvent is emitted when a creator restarts or extends a reward period.
type RestartOrAddEvent struct {
	Signature string `json:"signature"`
	FarmID    string `json:"farm_id"`
	User      string `json:"user"`
	StartTime uint32 `json:"start_time"`
	EndTime   uint32 `json:"end_time"`
}

func (e *RestartOrAddEvent) Kind() EventKind     { return KindRestartOrAdd }
func (e *RestartOrAddEvent) TxSignature() string { return e.Signature }

// NewRewardEvent is emitted when a new reward token is registered on a farm.
type NewRewardEvent struct {
	Signature string `json:"signature"`
	FarmID    string `json:"farm_id"`
	User      string `json:"user"`
	StartTime uint32 `json:"start_time"`
	EndTime   uint32 `json:"end_time"`
}

func (e *NewRewardEvent) Kind() EventKind     { return KindNewReward }
func (e *NewRewardEvent) TxSignature() string { return e.Signature }

// FarmTransaction wraps a single event. It marshals as a one-of object keyed by kind.
type FarmTransaction struct {
	Event Event
}

// MarshalJSON implements json.Marshaler
func (ft FarmTransaction) MarshalJSON() ([]byte, error) {
	if ft.Event == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Event{ft.Event.Kind().String(): ft.Event})
}

// UnmarshalJSON implements json.Unmarshaler
func (ft *FarmTransaction) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		ft.Event = nil
		return nil
	}
	if len(raw) != 1 {
		return fmt.Errorf("farm transaction must hold exactly one event, got %d", len(raw))
	}

	for key, body := range raw {
		var event Event
		switch key {
		case KindInitialize.String():
			event = &InitializeEvent{}
		case KindRestartOrAdd.String():
			event = &RestartOrAddEvent{}
		case KindNewReward.String():
			event = &NewRewardEvent{}
		default:
			return fmt.Errorf("unknown event kind %q", key)
		}
		if err := json.Unmarshal(body, event); err != nil {
			return fmt.Errorf("failed to decode %s event: %w", key, err)
		}
		ft.Event = event
	}
	return nil
}

// Output is the result of one batch: either absent or a non-empty ordered event list.
type Output struct {
	transactions []FarmTransaction
	present      bool
}

// Absent returns the output of a batch that produced no events.
func Absent() Output {
	return Output{}
}

// Present returns an output holding the given events. An empty list is still Absent.
func Present(transactions []FarmTransaction) Output {
	if len(transactions) == 0 {
		return Absent()
	}
	return Output{transactions: transactions, present: true}
}

// Get returns the events and whether the output is present.
func (o Output) Get() ([]FarmTransaction, bool) {
	return o.transactions, o.present
}

// IsPresent reports whether the batch produced any event.
func (o Output) IsPresent() bool {
	return o.present
}
