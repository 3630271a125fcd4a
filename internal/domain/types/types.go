// Package types contains the API views shared by the service and the HTTP layer.
package types

import (
	"time"

	"github.com/okian/neodrop/internal/domain/attributes"
	"github.com/okian/neodrop/internal/domain/chain"
	"github.com/okian/neodrop/internal/domain/model"
	"github.com/okian/neodrop/internal/domain/reward"
)

// Neo is a NEO with its derived attribute labels.
type Neo struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	CloseApproach time.Time             `json:"close_approach"`
	SizeFeet      float64               `json:"size_feet"`
	RangeMiles    float64               `json:"range_miles"`
	VelocityMPH   float64               `json:"velocity_mph"`
	Attributes    attributes.Attributes `json:"attributes"`
}

// NewNeo builds the view of n.
func NewNeo(n model.NEO) Neo {
	return Neo{
		ID:            n.ID,
		Name:          n.Name,
		CloseApproach: n.CloseApproach,
		SizeFeet:      n.SizeFeet,
		RangeMiles:    n.RangeMiles,
		VelocityMPH:   n.VelocityMPH,
		Attributes:    attributes.Classify(n),
	}
}

// EngineState is the rotation state as reported by /neo and /stats.
type EngineState struct {
	State    string    `json:"state"`
	Since    time.Time `json:"since"`
	Rotating bool      `json:"rotating"`
	Error    string    `json:"error,omitempty"`
	Neo      *Neo      `json:"neo,omitempty"`
}

// TopEntry is one row of an attribute leaderboard.
type TopEntry struct {
	Rank  int     `json:"rank"`
	Value float64 `json:"value"`
	Neo   Neo     `json:"neo"`
}

// Winners lists the accounts recorded for one NEO.
type Winners struct {
	NeoID    string         `json:"neo_id"`
	Accounts []model.Winner `json:"accounts"`
}

// Question is a quiz prompt without its answer.
type Question struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
}

// Quiz is the public quiz view. Answers are withheld.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// NewQuiz strips the answers from q.
func NewQuiz(q model.Quiz) Quiz {
	out := Quiz{ID: q.ID, Title: q.Title, Questions: make([]Question, 0, len(q.Questions))}
	for _, qu := range q.Questions {
		out.Questions = append(out.Questions, Question{Prompt: qu.Prompt, Choices: qu.Choices})
	}
	return out
}

// Transfer is one attempted reward transfer.
type Transfer struct {
	Index   int    `json:"index"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AwardRun reports an award or replay pass.
type AwardRun struct {
	RunID      string     `json:"run_id,omitempty"`
	NeoID      string     `json:"neo_id"`
	TokenID    string     `json:"token_id,omitempty"`
	MintAmount uint64     `json:"mint_amount,omitempty"`
	ContentURI string     `json:"content_uri,omitempty"`
	MintTx     string     `json:"mint_tx,omitempty"`
	Transfers  []Transfer `json:"transfers"`
	Error      string     `json:"error,omitempty"`
}

// NewAwardRun builds the view of o.
func NewAwardRun(o reward.Outcome) AwardRun {
	run := AwardRun{
		RunID:      o.RunID,
		NeoID:      o.NeoID,
		MintAmount: o.MintAmount,
		ContentURI: o.ContentURI,
		Transfers:  make([]Transfer, 0, len(o.Transfers)),
	}
	if o.TokenID != nil {
		run.TokenID = o.TokenID.String()
	}
	if o.Mint != nil {
		run.MintTx = o.Mint.TxHash.Hex()
	}
	if o.Err != nil {
		run.Error = o.Err.Error()
	}
	for _, t := range o.Transfers {
		tr := Transfer{Index: t.Index, Account: t.Account, Amount: t.Amount}
		if t.Receipt != nil {
			tr.TxHash = t.Receipt.TxHash.Hex()
		}
		if t.Err != nil {
			tr.Error = t.Err.Error()
		}
		run.Transfers = append(run.Transfers, tr)
	}
	return run
}

// Balance is a token balance read.
type Balance struct {
	Account string `json:"account"`
	NeoID   string `json:"neo_id"`
	TokenID string `json:"token_id"`
	Balance uint64 `json:"balance"`
}

// Holding is one account's balance of one reward token.
type Holding struct {
	Account string `json:"account"`
	TokenID string `json:"token_id"`
	Balance uint64 `json:"balance"`
}

// NewHoldings builds the views of hs.
func NewHoldings(hs []chain.Holding) []Holding {
	out := make([]Holding, 0, len(hs))
	for _, h := range hs {
		out = append(out, Holding{Account: h.Account.Hex(), TokenID: h.TokenID.String(), Balance: h.Amount})
	}
	return out
}

// TokenURI is the metadata location of a NEO's token.
type TokenURI struct {
	NeoID   string `json:"neo_id"`
	TokenID string `json:"token_id"`
	URI     string `json:"uri"`
}

// TokenOwners lists the holders of a NEO's token.
type TokenOwners struct {
	NeoID   string    `json:"neo_id"`
	TokenID string    `json:"token_id"`
	Owners  []Holding `json:"owners"`
}

// OwnedTokens lists the reward tokens an account holds.
type OwnedTokens struct {
	Account string    `json:"account"`
	Tokens  []Holding `json:"tokens"`
}

// TokenInfo describes a NEO's reward token: where its metadata lives, how
// many units are out and with whom.
type TokenInfo struct {
	NeoID   string    `json:"neo_id"`
	TokenID string    `json:"token_id"`
	URI     string    `json:"uri"`
	Supply  uint64    `json:"supply"`
	Owners  []Holding `json:"owners"`
	Neo     *Neo      `json:"neo,omitempty"`
}
