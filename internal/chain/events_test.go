package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/launchfleet/launchbot/internal/transport"
)

var (
	managerAddr = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	coinAddr    = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	otherAddr   = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

func managerDeployedLog(manager common.Address) *types.Log {
	return &types.Log{
		Topics: []common.Hash{
			managerDeployedTopic,
			common.BytesToHash(manager.Bytes()),
			common.BytesToHash(otherAddr.Bytes()),
		},
	}
}

func poolCreatedLog(t *testing.T, memecoin common.Address) *types.Log {
	t.Helper()
	ev := poolCreated.parsed.Events["PoolCreated"]
	// Non-indexed args: memecoin, memecoinTreasury, tokenId, currencyFlipped, fee.
	data, err := ev.Inputs.NonIndexed().Pack(memecoin, otherAddr, big.NewInt(7), false, big.NewInt(3000))
	if err != nil {
		t.Fatalf("pack PoolCreated data: %v", err)
	}
	return &types.Log{
		Topics: []common.Hash{poolCreated.id, common.Hash{0x01}},
		Data:   data,
	}
}

func TestExtractManagerAddress(t *testing.T) {
	t.Run("from event topic", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			{Topics: []common.Hash{{0xde, 0xad}}}, // unrelated log
			managerDeployedLog(managerAddr),
		}}
		got, err := ExtractManagerAddress(receipt)
		if err != nil {
			t.Fatalf("ExtractManagerAddress: %v", err)
		}
		if got != managerAddr {
			t.Fatalf("got %s, want %s", got.Hex(), managerAddr.Hex())
		}
	})

	t.Run("deterministic across repeated extraction", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			managerDeployedLog(managerAddr),
			managerDeployedLog(otherAddr), // second match never wins
		}}
		for i := 0; i < 3; i++ {
			got, err := ExtractManagerAddress(receipt)
			if err != nil || got != managerAddr {
				t.Fatalf("run %d: got (%s, %v)", i, got.Hex(), err)
			}
		}
	})

	t.Run("contract address fallback", func(t *testing.T) {
		receipt := &types.Receipt{ContractAddress: managerAddr}
		got, err := ExtractManagerAddress(receipt)
		if err != nil || got != managerAddr {
			t.Fatalf("got (%s, %v)", got.Hex(), err)
		}
	})

	t.Run("no event and no fallback", func(t *testing.T) {
		_, err := ExtractManagerAddress(&types.Receipt{})
		if !errors.Is(err, ErrNoEvent) {
			t.Fatalf("err = %v, want ErrNoEvent", err)
		}
	})

	t.Run("zero address rejected", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{managerDeployedLog(common.Address{})}}
		_, err := ExtractManagerAddress(receipt)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("err = %v, want ErrInvalidAddress", err)
		}
	})
}

func TestExtractCoinAddress(t *testing.T) {
	t.Run("from decoded event data", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{poolCreatedLog(t, coinAddr)}}
		got, err := ExtractCoinAddress(receipt)
		if err != nil {
			t.Fatalf("ExtractCoinAddress: %v", err)
		}
		if got != coinAddr {
			t.Fatalf("got %s, want %s", got.Hex(), coinAddr.Hex())
		}
	})

	t.Run("no fallback for coin launches", func(t *testing.T) {
		// Even with a ContractAddress set, a missing event is an error.
		receipt := &types.Receipt{ContractAddress: coinAddr}
		_, err := ExtractCoinAddress(receipt)
		if !errors.Is(err, ErrNoEvent) {
			t.Fatalf("err = %v, want ErrNoEvent", err)
		}
	})

	t.Run("zero coin address rejected", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{poolCreatedLog(t, common.Address{})}}
		_, err := ExtractCoinAddress(receipt)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("err = %v, want ErrInvalidAddress", err)
		}
	})
}

func TestHashFromRef(t *testing.T) {
	hash := "0x" + "ab" + "cd" + "00112233445566778899aabbccddeeff00112233445566778899aabbccdd"
	want := common.HexToHash(hash)

	tests := []struct {
		name    string
		ref     *transport.TxRef
		want    common.Hash
		wantErr bool
	}{
		{
			name: "bare hash shape",
			ref:  &transport.TxRef{Raw: hash},
			want: want,
		},
		{
			name: "structured reference shape",
			ref:  &transport.TxRef{NetworkID: "0x2105", Reference: &transport.TxRefDetails{TransactionHash: hash}},
			want: want,
		},
		{
			name: "whitespace trimmed",
			ref:  &transport.TxRef{Raw: "  " + hash + "\n"},
			want: want,
		},
		{name: "nil ref", ref: nil, wantErr: true},
		{name: "empty", ref: &transport.TxRef{}, wantErr: true},
		{name: "missing prefix", ref: &transport.TxRef{Raw: hash[2:]}, wantErr: true},
		{name: "short", ref: &transport.TxRef{Raw: "0x1234"}, wantErr: true},
		{name: "non-hex", ref: &transport.TxRef{Raw: "0x" + "zz" + hash[4:]}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HashFromRef(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("HashFromRef = %s, want error", got.Hex())
				}
				return
			}
			if err != nil {
				t.Fatalf("HashFromRef: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %s, want %s", got.Hex(), tt.want.Hex())
			}
		})
	}
}
