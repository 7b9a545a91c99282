package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"royaltysync/core/amount"
	"royaltysync/ledger"
)

var royaltyEvents = map[string]ledger.EventKind{
	"Transfer":             ledger.EventTransfer,
	"RoyaltiesDistributed": ledger.EventRoyaltiesDistributed,
	"VestingReleased":      ledger.EventVestingReleased,
}

var badgeEvents = map[string]ledger.EventKind{
	"BadgeClaimed":        ledger.EventBadgeClaimed,
	"BadgeAwardedByAdmin": ledger.EventBadgeAwarded,
	"BadgeRevoked":        ledger.EventBadgeRevoked,
}

// Subscribe streams decoded royalty and badge events to sink. Logs of other
// event types are ignored.
func (c *Client) Subscribe(ctx context.Context, sink func(ledger.Event)) (ledger.Subscription, error) {
	if sink == nil {
		return nil, fmt.Errorf("event sink required")
	}
	query := ethereum.FilterQuery{Addresses: []common.Address{c.addrs.RoyaltyToken, c.addrs.BadgeRegistry}}
	logs := make(chan gethtypes.Log, 64)
	upstream, err := c.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}
	sub := &subscription{
		upstream: upstream,
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(sub.errs)
		for {
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case err, ok := <-upstream.Err():
				if ok && err != nil {
					sub.errs <- err
				}
				return
			case entry := <-logs:
				ev, ok, err := c.decode(entry)
				if err != nil {
					c.logger.Warn("undecodable ledger log", "error", err, "tx", entry.TxHash.Hex())
					continue
				}
				if ok {
					sink(ev)
				}
			}
		}
	}()
	return sub, nil
}

type subscription struct {
	upstream ethereum.Subscription
	errs     chan error
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.upstream.Unsubscribe()
	})
	s.wg.Wait()
}

func (s *subscription) Err() <-chan error { return s.errs }

func (c *Client) decode(entry gethtypes.Log) (ledger.Event, bool, error) {
	if entry.Removed || len(entry.Topics) == 0 {
		return ledger.Event{}, false, nil
	}
	var (
		contract abi.ABI
		kinds    map[string]ledger.EventKind
	)
	switch entry.Address {
	case c.addrs.RoyaltyToken:
		contract, kinds = c.abis.royalty, royaltyEvents
	case c.addrs.BadgeRegistry:
		contract, kinds = c.abis.badge, badgeEvents
	default:
		return ledger.Event{}, false, nil
	}
	def, err := contract.EventByID(entry.Topics[0])
	if err != nil {
		return ledger.Event{}, false, nil
	}
	kind, ok := kinds[def.Name]
	if !ok {
		return ledger.Event{}, false, nil
	}
	values := make(map[string]interface{})
	if len(entry.Data) > 0 {
		if err := contract.UnpackIntoMap(values, def.Name, entry.Data); err != nil {
			return ledger.Event{}, false, fmt.Errorf("unpack %s: %w", def.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range def.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, entry.Topics[1:]); err != nil {
		return ledger.Event{}, false, fmt.Errorf("topics %s: %w", def.Name, err)
	}

	ev := ledger.Event{Kind: kind, BlockNumber: entry.BlockNumber, TxHash: entry.TxHash}
	switch kind {
	case ledger.EventTransfer:
		ev.From = addressField(values, "from")
		ev.To = addressField(values, "to")
		ev.Amount = amount.ToDisplay(bigField(values, "value"))
	case ledger.EventRoyaltiesDistributed:
		ev.From = addressField(values, "by")
		ev.Amount = amount.ToDisplay(bigField(values, "amount"))
	case ledger.EventVestingReleased:
		ev.Amount = amount.ToDisplay(bigField(values, "amount"))
		ev.Tranche = bigField(values, "tranche").Uint64()
	case ledger.EventBadgeClaimed, ledger.EventBadgeAwarded:
		ev.BadgeTypeID = bigField(values, "badgeTypeId").Uint64()
		ev.To = addressField(values, "user")
		ev.TokenID = bigField(values, "tokenId").Uint64()
	case ledger.EventBadgeRevoked:
		ev.TokenID = bigField(values, "tokenId").Uint64()
		ev.From = addressField(values, "user")
	}
	return ev, true, nil
}

func bigField(values map[string]interface{}, key string) *big.Int {
	if v, ok := values[key].(*big.Int); ok && v != nil {
		return v
	}
	return new(big.Int)
}

func addressField(values map[string]interface{}, key string) common.Address {
	if v, ok := values[key].(common.Address); ok {
		return v
	}
	return common.Address{}
}
