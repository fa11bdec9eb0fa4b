package farm

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func signature(b byte) []byte {
	return bytes.Repeat([]byte{b}, 64)
}

func confirmed(sig []byte, keys [][]byte, logs []string) *ConfirmedTransaction {
	return &ConfirmedTransaction{
		Transaction: &Transaction{
			Signatures: [][]byte{sig},
			Message:    &Message{AccountKeys: keys},
		},
		Meta: &TransactionMeta{LogMessages: logs},
	}
}

func newTestProcessor(t *testing.T) (*Processor, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewProcessor(testProgramID, ContextGrouper{}, logger), hook
}

func TestMapFarmTransactionsOrder(t *testing.T) {
	p, _ := newTestProcessor(t)

	keys := [][]byte{key(1), key(2), key(3), key(4)}
	batch := Transactions{Transactions: []*ConfirmedTransaction{
		confirmed(signature(9), keys, farmInvocation(
			"process_admin_add_reward_token: ADDR, 10, 20, 1, 0",
			"process_creator_restart: ADDR, 30, 40, 2",
			"process_initialize reward_per_second 5, begin:100, current:90, end:200",
		)),
		confirmed(signature(8), keys, farmInvocation("Instruction: Deposit")),
		confirmed(signature(7), keys, farmInvocation("process_creator_restart: ADDR, 50, 60, 2")),
	}}

	output, err := p.MapFarmTransactions(batch)
	require.NoError(t, err)

	txs, ok := output.Get()
	require.True(t, ok)
	require.Len(t, txs, 4)

	assert.Equal(t, KindInitialize, txs[0].Event.Kind())
	assert.Equal(t, KindRestartOrAdd, txs[1].Event.Kind())
	assert.Equal(t, KindNewReward, txs[2].Event.Kind())
	assert.Equal(t, KindRestartOrAdd, txs[3].Event.Kind())

	first := base58.Encode(signature(9))
	for _, tx := range txs[:3] {
		assert.Equal(t, first, tx.Event.TxSignature())
	}
	assert.Equal(t, base58.Encode(signature(7)), txs[3].Event.TxSignature())

	initEvent := txs[0].Event.(*InitializeEvent)
	assert.Equal(t, base58.Encode(key(1)), initEvent.User)
	assert.Equal(t, base58.Encode(key(2)), initEvent.FarmID)
	assert.Equal(t, base58.Encode(key(3)), initEvent.LpMint)
	assert.Equal(t, []string{base58.Encode(key(4))}, initEvent.RewardMints)
}

func TestMapFarmTransactionsAbsent(t *testing.T) {
	p, _ := newTestProcessor(t)

	batch := Transactions{Transactions: []*ConfirmedTransaction{
		confirmed(signature(1), [][]byte{key(1), key(2)}, farmInvocation("Instruction: Deposit")),
		confirmed(signature(2), [][]byte{key(1), key(2)}, []string{"Program log: process_creator_restart: A, 1, 2, 3"}),
	}}

	output, err := p.MapFarmTransactions(batch)
	require.NoError(t, err)
	assert.False(t, output.IsPresent())

	txs, ok := output.Get()
	assert.False(t, ok)
	assert.Nil(t, txs)

	output, err = p.MapFarmTransactions(Transactions{})
	require.NoError(t, err)
	assert.False(t, output.IsPresent())
}

func TestMapFarmTransactionsFatalErrorsAbortBatch(t *testing.T) {
	p, _ := newTestProcessor(t)

	good := confirmed(signature(1), [][]byte{key(1), key(2)}, farmInvocation("process_creator_restart: A, 1, 2, 3"))
	short := confirmed(signature(2), [][]byte{key(1), key(2)}, farmInvocation(
		"process_initialize reward_per_second 5, begin:100, current:90, end:200",
		"process_initialize reward_per_second 5, begin:100, current:90, end:200",
	))

	output, err := p.MapFarmTransactions(Transactions{Transactions: []*ConfirmedTransaction{good, short}})
	assert.ErrorIs(t, err, ErrMissingAccount)
	assert.False(t, output.IsPresent())

	tests := []struct {
		name string
		tx   *ConfirmedTransaction
	}{
		{name: "nil transaction", tx: nil},
		{name: "missing meta", tx: &ConfirmedTransaction{Transaction: good.Transaction}},
		{name: "missing message", tx: &ConfirmedTransaction{Transaction: &Transaction{Signatures: [][]byte{signature(1)}}, Meta: good.Meta}},
		{name: "missing transaction", tx: &ConfirmedTransaction{Meta: good.Meta}},
		{name: "missing signature", tx: &ConfirmedTransaction{Transaction: &Transaction{Message: good.Transaction.Message}, Meta: good.Meta}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := p.MapFarmTransactions(Transactions{Transactions: []*ConfirmedTransaction{good, tt.tx}})
			assert.ErrorIs(t, err, ErrMissingMetadata)
			assert.False(t, output.IsPresent())
		})
	}
}

func TestMapFarmTransactionsSubstringGrouping(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	p := NewProcessor(testProgramID, SubstringGrouper{ProgramID: testProgramID}, logger)

	keys := [][]byte{key(1), key(2)}
	batch := Transactions{Transactions: []*ConfirmedTransaction{
		confirmed(signature(1), keys, farmInvocation("process_creator_restart: A, 500, 900, 2")),
		confirmed(signature(2), keys, []string{"Program log: process_creator_restart: A, 500, 900, 2"}),
	}}

	output, err := p.MapFarmTransactions(batch)
	require.NoError(t, err)
	txs, ok := output.Get()
	require.True(t, ok)
	require.Len(t, txs, 1)
	assert.Equal(t, &RestartOrAddEvent{
		Signature: base58.Encode(signature(1)),
		FarmID:    base58.Encode(key(2)),
		User:      base58.Encode(key(1)),
		StartTime: 500,
		EndTime:   900,
	}, txs[0].Event)
}

func TestProcessorLogsDiagnostics(t *testing.T) {
	p, hook := newTestProcessor(t)

	batch := Transactions{Transactions: []*ConfirmedTransaction{
		confirmed(signature(1), [][]byte{key(1), key(2)}, farmInvocation("process_creator_restart: A, 1, 2, 3")),
	}}
	_, err := p.MapFarmTransactions(batch)
	require.NoError(t, err)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "reward period matched", hook.LastEntry().Message)
	assert.Equal(t, uint32(1), hook.LastEntry().Data["start_time"])
}

func TestFarmTransactionJSON(t *testing.T) {
	original := FarmTransaction{Event: &InitializeEvent{
		Signature:   "sig",
		FarmID:      "farm",
		User:        "user",
		LpMint:      "lp",
		RewardMints: []string{"r1", "r2"},
		StartTime:   100,
		EndTime:     200,
	}}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.JSONEq(t, `{"initialize":{"signature":"sig","farm_id":"farm","user":"user","lp_mint":"lp","reward_mints":["r1","r2"],"start_time":100,"end_time":200}}`, string(data))

	var decoded FarmTransaction
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)

	assert.Error(t, json.Unmarshal([]byte(`{"swap":{}}`), &decoded))
}
