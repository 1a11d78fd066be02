package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/launchfleet/launchbot/internal/state"
	"github.com/launchfleet/launchbot/internal/transport"
)

// TxRequestText is the visible placeholder posted alongside a wallet action
// request, for clients that do not render the request payload itself.
const TxRequestText = "💸 Sent a transaction request"

// factoryABI covers the two factory entry points the launcher calls.
const factoryABI = `[
  {"type":"function","name":"createManager","inputs":[
    {"name":"receivers","type":"address[]"},
    {"name":"percents","type":"uint256[]"}]},
  {"type":"function","name":"createCoin","inputs":[
    {"name":"name","type":"string"},
    {"name":"symbol","type":"string"},
    {"name":"imageURI","type":"string"},
    {"name":"manager","type":"address"},
    {"name":"startingMarketCap","type":"uint256"},
    {"name":"fairLaunchPercent","type":"uint256"}]}
]`

// chainIDs maps network labels to hex chain IDs for wallet action requests.
var chainIDs = map[string]string{
	"base-mainnet": "0x2105",
	"base-sepolia": "0x14a34",
}

// Launcher builds launch calldata and delivers it to the participant's wallet
// through the transport. The participant signs and submits; confirmation
// arrives later as a transaction-reference message.
type Launcher struct {
	sender         transport.WalletCallSender
	managerFactory common.Address
	coinFactory    common.Address
	chainID        string
	abi            abi.ABI
}

// NewLauncher wires a launcher for one network.
func NewLauncher(sender transport.WalletCallSender, managerFactory, coinFactory common.Address, network string) (*Launcher, error) {
	parsed, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse factory ABI: %w", err)
	}
	id, ok := chainIDs[network]
	if !ok {
		return nil, fmt.Errorf("chain: unknown network %q", network)
	}
	return &Launcher{
		sender:         sender,
		managerFactory: managerFactory,
		coinFactory:    coinFactory,
		chainID:        id,
		abi:            parsed,
	}, nil
}

// RequestGroupCreation asks the creator's wallet to deploy a fee-split
// manager with the given receiver table.
func (l *Launcher) RequestGroupCreation(ctx context.Context, conversationID string, creator common.Address, receivers []state.Receiver) error {
	addrs := make([]common.Address, len(receivers))
	percents := make([]*big.Int, len(receivers))
	for i, r := range receivers {
		addrs[i] = r.Address
		percents[i] = big.NewInt(int64(r.Percent))
	}
	data, err := l.abi.Pack("createManager", addrs, percents)
	if err != nil {
		return fmt.Errorf("chain: pack createManager: %w", err)
	}
	return l.send(ctx, conversationID, creator, l.managerFactory, data,
		fmt.Sprintf("Deploy a fee split across %d receivers", len(receivers)))
}

// RequestCoinCreation asks the creator's wallet to launch a token through a
// deployed manager.
func (l *Launcher) RequestCoinCreation(ctx context.Context, conversationID string, creator common.Address, coin state.CoinData, params state.LaunchParams, manager common.Address) error {
	data, err := l.abi.Pack("createCoin",
		coin.Name, coin.Ticker, coin.ImageURI, manager,
		big.NewInt(int64(params.StartingMarketCapUSD)),
		big.NewInt(int64(params.FairLaunchPercent)),
	)
	if err != nil {
		return fmt.Errorf("chain: pack createCoin: %w", err)
	}
	return l.send(ctx, conversationID, creator, l.coinFactory, data,
		fmt.Sprintf("Launch %s (%s)", coin.Name, coin.Ticker))
}

func (l *Launcher) send(ctx context.Context, conversationID string, from, to common.Address, data []byte, description string) error {
	calls := transport.WalletCalls{
		From:        from.Hex(),
		ChainID:     l.chainID,
		Description: description,
		Calls: []transport.WalletCall{{
			To:   to.Hex(),
			Data: hexutil.Encode(data),
		}},
	}
	if err := l.sender.SendWalletCalls(ctx, conversationID, calls); err != nil {
		return fmt.Errorf("chain: send wallet calls: %w", err)
	}
	slog.Info("launcher: wallet action requested",
		"conversation", conversationID, "from", from.Hex(), "to", to.Hex(), "what", description)
	return nil
}
