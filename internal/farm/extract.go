package farm

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Farm program log tags
const (
	InitializeTag   = "process_initialize reward_per_second"
	RestartTag      = "process_creator_restart"
	AddRewardTag    = "process_admin_add_reward_token"
	restartPrefix   = RestartTag + ": "
	addRewardPrefix = AddRewardTag + ": "
)

var (
	beginField = Field{Label: "begin:", Delimiter: ",", Position: 0}
	endField   = Field{Label: "end:", Delimiter: ",", Position: 0}
)

// DecodedTransaction is a transaction with its signature and accounts already
// base58-encoded and its logs grouped by emitting program.
type DecodedTransaction struct {
	Signature string
	Accounts  []string
	Contexts  []LogContext
}

// Extractor turns one decoded transaction into at most one event.
// A nil event with a nil error means the extractor does not apply.
type Extractor interface {
	Kind() EventKind
	Extract(tx *DecodedTransaction) (Event, error)
}

// matchingLines returns the lines of programID's contexts that contain tag.
func matchingLines(contexts []LogContext, programID, tag string) []string {
	var lines []string
	for _, ctx := range contexts {
		if ctx.ProgramID != programID {
			continue
		}
		for _, msg := range ctx.LogMessages {
			if strings.Contains(msg, tag) {
				lines = append(lines, msg)
			}
		}
	}
	return lines
}

// signerAccounts resolves the initiating user and the farm id, the first two accounts
// of every Farm instruction.
func signerAccounts(accounts []string) (user, farmID string, err error) {
	if len(accounts) < 2 {
		return "", "", fmt.Errorf("%w: need user and farm accounts, transaction has %d accounts",
			ErrMissingAccount, len(accounts))
	}
	return accounts[0], accounts[1], nil
}

// initializeAccounts is the account layout of a Farm initialize instruction.
type initializeAccounts struct {
	User        string
	FarmID      string
	LpMint      string
	RewardMints []string
}

// correlateInitializeAccounts maps an initialize instruction's account list onto roles.
// The Farm program lays out the LP mint immediately before a trailing block of one
// reward mint per initialized reward token; rewardCount is that token count.
func correlateInitializeAccounts(accounts []string, rewardCount int) (initializeAccounts, error) {
	user, farmID, err := signerAccounts(accounts)
	if err != nil {
		return initializeAccounts{}, err
	}

	n := len(accounts)
	if rewardCount <= 0 || rewardCount >= n {
		return initializeAccounts{}, fmt.Errorf("%w: %d reward mints plus lp mint do not fit in %d accounts",
			ErrMissingAccount, rewardCount, n)
	}

	rewardMints := make([]string, rewardCount)
	copy(rewardMints, accounts[n-rewardCount:])

	return initializeAccounts{
		User:        user,
		FarmID:      farmID,
		LpMint:      accounts[n-1-rewardCount],
		RewardMints: rewardMints,
	}, nil
}

// InitializeExtractor recognizes farm initialization.
type InitializeExtractor struct {
	ProgramID string
	Logger    logrus.FieldLogger
}

// Kind implements Extractor
func (e *InitializeExtractor) Kind() EventKind { return KindInitialize }

// Extract implements Extractor
func (e *InitializeExtractor) Extract(tx *DecodedTransaction) (Event, error) {
	lines := matchingLines(tx.Contexts, e.ProgramID, InitializeTag)
	if len(lines) == 0 {
		return nil, nil
	}

	accounts, err := correlateInitializeAccounts(tx.Accounts, len(lines))
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %w", tx.Signature, err)
	}

	event := &InitializeEvent{
		Signature:   tx.Signature,
		FarmID:      accounts.FarmID,
		User:        accounts.User,
		LpMint:      accounts.LpMint,
		RewardMints: accounts.RewardMints,
		StartTime:   Earliest(lines, beginField),
		EndTime:     Latest(lines, endField),
	}

	if e.Logger != nil {
		e.Logger.WithFields(logrus.Fields{
			"signature":    event.Signature,
			"user":         event.User,
			"farm_id":      event.FarmID,
			"lp_mint":      event.LpMint,
			"reward_mints": event.RewardMints,
			"start_time":   event.StartTime,
			"end_time":     event.EndTime,
		}).Debug("initialize matched")
	}

	return event, nil
}

// periodExtractor recognizes instructions whose log lines have the shape
// "<tag>: <token account>, <start>, <end>, ...".
type periodExtractor struct {
	programID string
	tag       string
	prefix    string
	kind      EventKind
	logger    logrus.FieldLogger
	build     func(signature, user, farmID string, start, end uint32) Event
}

// Kind implements Extractor
func (e *periodExtractor) Kind() EventKind { return e.kind }

// Extract implements Extractor
func (e *periodExtractor) Extract(tx *DecodedTransaction) (Event, error) {
	lines := matchingLines(tx.Contexts, e.programID, e.tag)
	if len(lines) == 0 {
		return nil, nil
	}

	// Reward and LP mints are not resolvable here: the logs only carry token accounts.
	user, farmID, err := signerAccounts(tx.Accounts)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", e.kind, tx.Signature, err)
	}

	start := Earliest(lines, Field{Label: e.prefix, Delimiter: ", ", Position: 1})
	end := Latest(lines, Field{Label: e.prefix, Delimiter: ", ", Position: 2})

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"signature":  tx.Signature,
			"kind":       e.kind.String(),
			"user":       user,
			"farm_id":    farmID,
			"start_time": start,
			"end_time":   end,
		}).Debug("reward period matched")
	}

	return e.build(tx.Signature, user, farmID, start, end), nil
}

// NewRestartOrAddExtractor recognizes reward period restarts and extensions.
func NewRestartOrAddExtractor(programID string, logger logrus.FieldLogger) Extractor {
	return &periodExtractor{
		programID: programID,
		tag:       RestartTag,
		prefix:    restartPrefix,
		kind:      KindRestartOrAdd,
		logger:    logger,
		build: func(signature, user, farmID string, start, end uint32) Event {
			return &RestartOrAddEvent{Signature: signature, FarmID: farmID, User: user, StartTime: start, EndTime: end}
		},
	}
}

// NewRewardExtractor recognizes new reward token registration.
func NewRewardExtractor(programID string, logger logrus.FieldLogger) Extractor {
	return &periodExtractor{
		programID: programID,
		tag:       AddRewardTag,
		prefix:    addRewardPrefix,
		kind:      KindNewReward,
		logger:    logger,
		build: func(signature, user, farmID string, start, end uint32) Event {
			return &NewRewardEvent{Signature: signature, FarmID: farmID, User: user, StartTime: start, EndTime: end}
		},
	}
}
