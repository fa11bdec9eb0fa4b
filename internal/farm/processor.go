package farm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"farm-log-indexer-go/pkg/utils"
)

// Processor maps batches of transactions to Farm program events.
type Processor struct {
	programID  string
	grouper    LogGrouper
	extractors []Extractor
	logger     logrus.FieldLogger
}

// NewProcessor creates a processor for programID. Extractors run in the fixed order
// Initialize, RestartOrAdd, NewReward.
func NewProcessor(programID string, grouper LogGrouper, logger logrus.FieldLogger) *Processor {
	if grouper == nil {
		grouper = ContextGrouper{}
	}
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}

	return &Processor{
		programID: programID,
		grouper:   grouper,
		extractors: []Extractor{
			&InitializeExtractor{ProgramID: programID, Logger: logger},
			NewRestartOrAddExtractor(programID, logger),
			NewRewardExtractor(programID, logger),
		},
		logger: logger,
	}
}

// ProgramID returns the Farm program id the processor matches against.
func (p *Processor) ProgramID() string {
	return p.programID
}

// MapFarmTransactions extracts every event of the batch in transaction-then-kind order.
// The output is absent when no transaction matched. Any error aborts the whole batch.
func (p *Processor) MapFarmTransactions(batch Transactions) (Output, error) {
	var farmTransactions []FarmTransaction

	for i, confirmed := range batch.Transactions {
		tx, err := p.Decode(confirmed)
		if err != nil {
			return Absent(), fmt.Errorf("transaction %d: %w", i, err)
		}

		p.logger.WithField("signature", tx.Signature).Debug("processing transaction")

		events, err := p.Extract(tx)
		if err != nil {
			return Absent(), err
		}
		for _, event := range events {
			farmTransactions = append(farmTransactions, FarmTransaction{Event: event})
		}
	}

	return Present(farmTransactions), nil
}

// Decode encodes the signature and account keys and groups the logs.
func (p *Processor) Decode(confirmed *ConfirmedTransaction) (*DecodedTransaction, error) {
	if confirmed == nil || confirmed.Meta == nil {
		return nil, fmt.Errorf("%w: meta is missing", ErrMissingMetadata)
	}
	if confirmed.Transaction == nil || confirmed.Transaction.Message == nil {
		return nil, fmt.Errorf("%w: message is missing", ErrMissingMetadata)
	}
	if len(confirmed.Transaction.Signatures) == 0 {
		return nil, fmt.Errorf("%w: signature is missing", ErrMissingMetadata)
	}

	return &DecodedTransaction{
		Signature: utils.EncodeBase58(confirmed.Transaction.Signatures[0]),
		Accounts:  utils.EncodeKeys(confirmed.Transaction.Message.AccountKeys),
		Contexts:  p.grouper.Group(confirmed.Meta.LogMessages),
	}, nil
}

// Extract runs every extractor over one decoded transaction.
func (p *Processor) Extract(tx *DecodedTransaction) ([]Event, error) {
	var events []Event
	for _, extractor := range p.extractors {
		event, err := extractor.Extract(tx)
		if err != nil {
			return nil, err
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events, nil
}
