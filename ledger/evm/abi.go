package evm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Default contract interfaces. Operators can replace any of them with the
// compiled artifact ABI through ABIPaths.
const (
	paymentTokenABI = `[
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

	royaltyTokenABI = `[
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"viewPricePerToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getVestingInfo","stateMutability":"view","inputs":[],"outputs":[
   {"name":"totalVestingAmount","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"duration","type":"uint256"},
   {"name":"totalTranches","type":"uint256"},{"name":"currentTranche","type":"uint256"},{"name":"trancheDuration","type":"uint256"},
   {"name":"alreadyReleased","type":"uint256"},{"name":"remainingAmount","type":"uint256"},{"name":"nextReleaseTime","type":"uint256"}]},
 {"type":"function","name":"buyFromContract","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"sellToContract","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"distributeRoyalties","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"updatePrice","stateMutability":"nonpayable","inputs":[{"name":"newPrice","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
 {"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
 {"type":"function","name":"releaseVesting","stateMutability":"nonpayable","inputs":[],"outputs":[]},
 {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
 {"type":"event","name":"RoyaltiesDistributed","anonymous":false,"inputs":[{"name":"by","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
 {"type":"event","name":"VestingReleased","anonymous":false,"inputs":[{"name":"amount","type":"uint256","indexed":false},{"name":"tranche","type":"uint256","indexed":false}]}
]`

	badgeRegistryABI = `[
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"badgeTypeCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getBadgeType","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[
   {"name":"name","type":"string"},{"name":"minHolding","type":"uint256"},{"name":"holdingDuration","type":"uint256"},{"name":"active","type":"bool"}]},
 {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"tokenIdToBadgeType","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"secondsHeldSoFar","stateMutability":"view","inputs":[{"name":"badgeTypeId","type":"uint256"},{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"updateHoldingProgress","stateMutability":"nonpayable","inputs":[{"name":"badgeTypeId","type":"uint256"},{"name":"user","type":"address"}],"outputs":[]},
 {"type":"function","name":"createBadgeType","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"minHolding","type":"uint256"},{"name":"holdingDuration","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"claimBadge","stateMutability":"nonpayable","inputs":[{"name":"badgeTypeId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"awardBadgeByAdmin","stateMutability":"nonpayable","inputs":[{"name":"badgeTypeId","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]},
 {"type":"function","name":"revokeBadge","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
 {"type":"event","name":"BadgeClaimed","anonymous":false,"inputs":[{"name":"badgeTypeId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":false}]},
 {"type":"event","name":"BadgeAwardedByAdmin","anonymous":false,"inputs":[{"name":"badgeTypeId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":false}]},
 {"type":"event","name":"BadgeRevoked","anonymous":false,"inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true}]}
]`
)

// ABIPaths optionally points at compiled contract ABI JSON files.
type ABIPaths struct {
	Payment string
	Royalty string
	Badge   string
}

type contracts struct {
	payment abi.ABI
	royalty abi.ABI
	badge   abi.ABI
}

func loadContracts(paths ABIPaths) (contracts, error) {
	var (
		c   contracts
		err error
	)
	if c.payment, err = loadABI(paths.Payment, paymentTokenABI); err != nil {
		return c, fmt.Errorf("payment abi: %w", err)
	}
	if c.royalty, err = loadABI(paths.Royalty, royaltyTokenABI); err != nil {
		return c, fmt.Errorf("royalty abi: %w", err)
	}
	if c.badge, err = loadABI(paths.Badge, badgeRegistryABI); err != nil {
		return c, fmt.Errorf("badge abi: %w", err)
	}
	return c, nil
}

func loadABI(path, fallback string) (abi.ABI, error) {
	def := fallback
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		contents, err := os.ReadFile(trimmed)
		if err != nil {
			return abi.ABI{}, err
		}
		def = string(contents)
		if strings.HasPrefix(strings.TrimSpace(def), "{") {
			var artifact struct {
				ABI json.RawMessage `json:"abi"`
			}
			if err := json.Unmarshal(contents, &artifact); err != nil {
				return abi.ABI{}, fmt.Errorf("decode artifact: %w", err)
			}
			def = string(artifact.ABI)
		}
	}
	return abi.JSON(strings.NewReader(def))
}
