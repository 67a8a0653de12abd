package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"quiz-tournament-service/internal/app"
	"quiz-tournament-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// debitScript conditionally debits a wallet: it fails without mutating when
// the balance would go negative. Runs atomically server-side.
var debitScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
  return redis.error_reply('insufficient funds')
end
return redis.call('INCRBYFLOAT', KEYS[1], -amount)
`)

// Store layers Redis primitives over an inner app.Store: wallet balances move
// via INCRBYFLOAT / a conditional-debit script, the per-tournament settlement
// claim is a SETNX, and session liveness is mirrored with TTL keys. Entity
// storage (tournaments, entries, sessions) stays on the inner store.
type Store struct {
	app.Store
	client *redis.Client
	ttl    time.Duration
}

func NewStore(inner app.Store, client *redis.Client, ttl time.Duration) *Store {
	return &Store{Store: inner, client: client, ttl: ttl}
}

func (s *Store) WalletBalance(ctx context.Context, userID string) (float64, error) {
	balance, err := s.client.Get(ctx, s.walletKey(userID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return balance, err
}

// SeedBalance sets a wallet balance directly, for demos and tests.
func (s *Store) SeedBalance(ctx context.Context, userID string, balance float64) error {
	return s.client.Set(ctx, s.walletKey(userID), balance, 0).Err()
}

func (s *Store) CreditWallet(ctx context.Context, userID string, amount float64, tx domain.WalletTransaction) (float64, error) {
	balance, err := s.client.IncrByFloat(ctx, s.walletKey(userID), amount).Result()
	if err != nil {
		return 0, err
	}
	if err := s.recordTransaction(ctx, userID, tx); err != nil {
		// undo the credit so balance and ledger stay paired
		_, _ = s.client.IncrByFloat(ctx, s.walletKey(userID), -amount).Result()
		return 0, err
	}
	return balance, nil
}

func (s *Store) DebitWallet(ctx context.Context, userID string, amount float64, tx domain.WalletTransaction) (float64, error) {
	res, err := debitScript.Run(ctx, s.client, []string{s.walletKey(userID)}, amount).Text()
	if err != nil {
		if isInsufficientFunds(err) {
			balance, _ := s.WalletBalance(ctx, userID)
			return balance, domain.ErrInsufficientFunds
		}
		return 0, err
	}
	balance, err := parseFloat(res)
	if err != nil {
		return 0, err
	}
	if err := s.recordTransaction(ctx, userID, tx); err != nil {
		_, _ = s.client.IncrByFloat(ctx, s.walletKey(userID), amount).Result()
		return 0, err
	}
	return balance, nil
}

func (s *Store) ClaimSettlement(ctx context.Context, tournamentID string) (bool, error) {
	return s.client.SetNX(ctx, s.settlementKey(tournamentID), "1", 0).Result()
}

// SaveSession mirrors a liveness marker with TTL alongside the inner write.
func (s *Store) SaveSession(ctx context.Context, session *domain.QuizSession) error {
	if err := s.Store.SaveSession(ctx, session); err != nil {
		return err
	}
	if session.Status == domain.SessionStarted {
		_ = s.client.Set(ctx, s.sessionKey(session.ID), "1", s.ttl).Err()
	} else {
		_ = s.client.Del(ctx, s.sessionKey(session.ID)).Err()
	}
	return nil
}

func (s *Store) recordTransaction(ctx context.Context, userID string, tx domain.WalletTransaction) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.transactionsKey(userID), raw).Err()
}

// Transactions returns the recorded ledger for a user.
func (s *Store) Transactions(ctx context.Context, userID string) ([]domain.WalletTransaction, error) {
	raws, err := s.client.LRange(ctx, s.transactionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.WalletTransaction, 0, len(raws))
	for _, raw := range raws {
		var tx domain.WalletTransaction
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func isInsufficientFunds(err error) bool {
	return err != nil && strings.Contains(err.Error(), "insufficient funds")
}

func parseFloat(raw string) (float64, error) {
	return strconv.ParseFloat(raw, 64)
}

func (s *Store) walletKey(userID string) string       { return "wallet:" + userID }
func (s *Store) transactionsKey(userID string) string { return "wallet:" + userID + ":transactions" }
func (s *Store) settlementKey(id string) string       { return "tournament:" + id + ":settled" }
func (s *Store) sessionKey(id string) string          { return "quiz:session:" + id }
