package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Season holds the fee configuration in force for the quests created under it.
// Fees are percentages of the betting pool.
type Season struct {
	ID         uint64          `gorm:"primaryKey"`
	Title      string          `gorm:"size:255"`
	ServiceFee decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	CharityFee decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	CreatorFee decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`
	MinPay     decimal.Decimal `gorm:"type:decimal(38,18);not null;default:0"`
	MaxPay     decimal.Decimal `gorm:"type:decimal(38,18);not null;default:0"`
	Active     bool            `gorm:"index;default:false"`
	StartAt    *time.Time
	EndAt      *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TotalFee is the share of the pool withheld from winning bettors.
func (s Season) TotalFee() decimal.Decimal {
	return s.CreatorFee.Add(s.CharityFee).Add(s.ServiceFee)
}

// Quest is the off-ledger record of a governed prediction market.
type Quest struct {
	QuestKey     uint64 `gorm:"primaryKey;autoIncrement:false"`
	SeasonID     uint64 `gorm:"index;not null"`
	Category     string `gorm:"size:64;index"`
	Title        string `gorm:"size:255;not null"`
	Description  string `gorm:"type:text"`
	Creator      string `gorm:"size:64;not null"`
	BettingToken string `gorm:"size:64"`
	Status       Status `gorm:"size:20;index;not null"`
	Stage        Stage  `gorm:"size:20;not null"`

	Pending      bool   `gorm:"index;not null;default:false"`
	PendingOp    Op     `gorm:"size:32"`
	PendingTx    string `gorm:"size:128"`
	PendingSince *time.Time

	DraftStartAt    *time.Time
	DraftEndAt      *time.Time
	BettingStartAt  *time.Time
	BettingEndAt    *time.Time
	DecisionStartAt *time.Time
	DecisionEndAt   *time.Time
	AnswerStartAt   *time.Time
	AnswerEndAt     *time.Time

	DraftTx         string `gorm:"size:128"`
	PublishTx       string `gorm:"size:128"`
	FinishTx        string `gorm:"size:128"`
	DecisionStartTx string `gorm:"size:128"`
	DecisionTx      string `gorm:"size:128"`
	AnswerTx        string `gorm:"size:128"`
	SuccessTx       string `gorm:"size:128"`
	AdjournTx       string `gorm:"size:128"`

	DraftForced      bool `gorm:"default:false"`
	DecisionForced   bool `gorm:"default:false"`
	RewardCalculated bool `gorm:"index;not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Season  Season   `gorm:"foreignKey:SeasonID"`
	Answers []Answer `gorm:"foreignKey:QuestKey"`
}

// State returns the quest's (status, stage) pair.
func (q Quest) State() State { return State{Status: q.Status, Stage: q.Stage} }

// Answer is one of the mutually exclusive outcomes of a quest.
type Answer struct {
	AnswerKey uint64 `gorm:"primaryKey;autoIncrement:false"`
	QuestKey  uint64 `gorm:"index;not null"`
	Title     string `gorm:"size:255;not null"`
	Selected  bool   `gorm:"default:false"`
	Pending   bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vote accumulates one voter's choices for a quest across the three voting
// phases. A nil option means the voter has not voted in that phase.
type Vote struct {
	ID             uint64              `gorm:"primaryKey"`
	QuestKey       uint64              `gorm:"not null;uniqueIndex:idx_vote_quest_voter"`
	Voter          string              `gorm:"size:64;not null;uniqueIndex:idx_vote_quest_voter"`
	Power          uint64              `gorm:"not null;default:0"`
	DraftOption    *string             `gorm:"size:16"`
	DraftPower     uint64              `gorm:"not null;default:0"`
	DraftTx        string              `gorm:"size:128"`
	DecisionOption *string             `gorm:"size:16"`
	DecisionPower  uint64              `gorm:"not null;default:0"`
	DecisionTx     string              `gorm:"size:128"`
	AnswerKey      *uint64             `gorm:"index"`
	AnswerPower    uint64              `gorm:"not null;default:0"`
	AnswerTx       string              `gorm:"size:128"`
	Reward         decimal.NullDecimal `gorm:"type:decimal(38,18)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Betting is a wallet's accumulated stake on one answer. Amount only counts
// stakes the ledger acknowledged; PendingAmount holds stakes whose ledger
// outcome is still unknown.
type Betting struct {
	BettingKey    uint64              `gorm:"primaryKey;autoIncrement:false"`
	QuestKey      uint64              `gorm:"not null;uniqueIndex:idx_betting_stake"`
	AnswerKey     uint64              `gorm:"not null;uniqueIndex:idx_betting_stake"`
	Bettor        string              `gorm:"size:64;not null;uniqueIndex:idx_betting_stake"`
	Amount        decimal.Decimal     `gorm:"type:decimal(38,18);not null;default:0"`
	PendingAmount decimal.Decimal     `gorm:"type:decimal(38,18);not null;default:0"`
	Status        BettingStatus       `gorm:"size:16;index;not null"`
	Tx            string              `gorm:"size:128"`
	RewardAmount  decimal.NullDecimal `gorm:"type:decimal(38,18)"`
	RewardClaimed bool                `gorm:"default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Reward is a payout computed by settlement. Rows are never deleted; the
// amount may only change while Claimed is false.
type Reward struct {
	RewardKey  uint64          `gorm:"primaryKey;autoIncrement:false"`
	Wallet     string          `gorm:"size:64;not null;uniqueIndex:idx_reward_natural"`
	QuestKey   uint64          `gorm:"not null;uniqueIndex:idx_reward_natural"`
	Type       RewardType      `gorm:"size:20;not null;uniqueIndex:idx_reward_natural"`
	AnswerKey  *uint64         `gorm:"index"`
	BettingKey *uint64         `gorm:"uniqueIndex"`
	Amount     decimal.Decimal `gorm:"type:decimal(38,18);not null"`
	Claimed    bool            `gorm:"index;default:false"`
	ClaimTx    string          `gorm:"size:128"`
	// ClaimPending is held while a payout is in flight or unconfirmed.
	ClaimPending      bool   `gorm:"index;default:false"`
	ClaimPendingTx    string `gorm:"size:128"`
	ClaimPendingSince *time.Time
	CreatedAt         time.Time
	UpdatedAt  time.Time
}

// Setting represents a configuration setting stored in the database
type Setting struct {
	ID     uint64 `gorm:"primaryKey"`
	Name   string `gorm:"size:64;uniqueIndex;not null"`
	Value  string `gorm:"type:text;not null"`
	Active uint8  `gorm:"not null;default:1"`
}

// AllModels lists every table owned by the service, in dependency order.
var AllModels = []interface{}{
	&Setting{}, &Season{},
	&Quest{}, &Answer{},
	&Vote{}, &Betting{}, &Reward{},
}
